package scheduler

import (
	"testing"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

func mustSome[T any](t *testing.T, o fn.Option[T]) T {
	t.Helper()

	require.True(t, o.IsSome())

	var zero T
	return o.UnwrapOr(zero)
}

func mustNoErr[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}

	return v
}
