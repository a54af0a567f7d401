package notify

import "strings"

// Class buckets a delivery failure for retry policy.
type Class string

const (
	// ClassRateLimited retries with backoff after the provider window
	// clears.
	ClassRateLimited Class = "rate_limited"
	// ClassPermanent must never be retried; retrying burns reputation and
	// cannot succeed.
	ClassPermanent Class = "permanent"
	// ClassTemporary retries with exponential backoff.
	ClassTemporary Class = "temporary"
)

var rateLimitPhrases = []string{
	"4.7.1",
	"rate limit",
	"ratelimit",
	"too many requests",
	"throttl",
	"quota exceeded",
	"sending quota",
}

var permanentPhrases = []string{
	"invalid recipient",
	"recipient address rejected",
	"mailbox not found",
	"mailbox unavailable",
	"user unknown",
	"no such user",
	"authentication failed",
	"invalid credentials",
	"domain not verified",
	"sender address rejected",
	"message rejected",
	"blacklisted",
	"blocked",
}

var temporaryPhrases = []string{
	"try again",
	"temporarily",
	"timeout",
	"timed out",
	"connection refused",
	"connection reset",
	"broken pipe",
	"service unavailable",
	"greylisted",
}

// Classify buckets a provider failure using an ordered rule set. Rate-limit
// markers win over everything because 429/450 would otherwise fall into the
// generic numeric buckets. Unrecognized failures default to temporary,
// favoring a wasted retry over silently dropping a delivery.
func Classify(code int, message string) Class {
	msg := strings.ToLower(message)

	if code == 429 || code == 450 {
		return ClassRateLimited
	}
	for _, p := range rateLimitPhrases {
		if strings.Contains(msg, p) {
			return ClassRateLimited
		}
	}

	for _, p := range permanentPhrases {
		if strings.Contains(msg, p) {
			return ClassPermanent
		}
	}
	if code >= 500 && code < 600 {
		return ClassPermanent
	}

	for _, p := range temporaryPhrases {
		if strings.Contains(msg, p) {
			return ClassTemporary
		}
	}
	if code >= 400 && code < 500 {
		return ClassTemporary
	}
	return ClassTemporary
}
