package health

import "strings"

// restrictionPhrases in a 403 body mean the account itself was flagged.
var restrictionPhrases = []string{
	"suspended",
	"restricted",
	"locked",
	"temporarily limited",
	"account is temporarily",
}

// rateLimitPhrases in a 429 body mean a long platform backoff.
var rateLimitPhrases = []string{
	"too many requests",
	"rate limit",
}

// blockedPagePhrases appear on challenge or block pages served to the UI.
var blockedPagePhrases = []string{
	"something went wrong",
	"account suspended",
	"your account has been locked",
	"verify your identity",
	"unusual login activity",
	"caution: this account is temporarily limited",
}

// IsRestrictionResponse reports whether an HTTP response indicates the
// account has been restricted. A 403 with an empty body counts.
func IsRestrictionResponse(status int, body string) bool {
	lower := strings.ToLower(body)

	switch status {
	case 403:
		if strings.TrimSpace(body) == "" {
			return true
		}

		return containsAny(lower, restrictionPhrases)

	default:
		return false
	}
}

// IsRateLimitResponse reports whether an HTTP response is a platform rate
// limit.
func IsRateLimitResponse(status int, body string) bool {
	if status != 429 {
		return false
	}

	return strings.TrimSpace(body) == "" ||
		containsAny(strings.ToLower(body), rateLimitPhrases)
}

// IsBlockedPage reports whether page content looks like a block or
// challenge page.
func IsBlockedPage(content string) bool {
	return containsAny(strings.ToLower(content), blockedPagePhrases)
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}

	return false
}
