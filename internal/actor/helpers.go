package actor

import "context"

// AskAwait sends msg as an ask and blocks for the unpacked reply.
func AskAwait[M Message, R any](ctx context.Context, ref ActorRef[M, R],
	msg M) (R, error) {

	return ref.Ask(ctx, msg).Await(ctx).Unpack()
}
