package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyRateLimitedWinsOverNumericBuckets(t *testing.T) {
	assert.Equal(t, ClassRateLimited, Classify(429, "too many requests"))
	assert.Equal(t, ClassRateLimited, Classify(450, "4.7.1 try again later"))
	// Throttle wording beats the 5xx-permanent rule.
	assert.Equal(t, ClassRateLimited, Classify(554, "sending quota exceeded"))
	assert.Equal(t, ClassRateLimited, Classify(0, "request was throttled"))
}

func TestClassifyPermanentPhrases(t *testing.T) {
	tests := []struct {
		code int
		msg  string
	}{
		{550, "550 5.1.1 mailbox not found"},
		{0, "invalid recipient"},
		{0, "User unknown in virtual mailbox table"},
		{535, "authentication failed"},
		{0, "domain not verified"},
	}
	for _, tt := range tests {
		assert.Equal(t, ClassPermanent, Classify(tt.code, tt.msg), "%d %q", tt.code, tt.msg)
	}
}

func TestClassifyNumeric5xxIsPermanent(t *testing.T) {
	assert.Equal(t, ClassPermanent, Classify(550, "unhelpful provider message"))
	assert.Equal(t, ClassPermanent, Classify(554, "transaction rejected"))
}

func TestClassifyTemporary(t *testing.T) {
	assert.Equal(t, ClassTemporary, Classify(0, "connection refused"))
	assert.Equal(t, ClassTemporary, Classify(0, "i/o timeout"))
	assert.Equal(t, ClassTemporary, Classify(421, "service not available, closing channel"))
	assert.Equal(t, ClassTemporary, Classify(451, "greylisted, try again shortly"))
}

func TestClassifyUnknownDefaultsToTemporary(t *testing.T) {
	// Favor a wasted retry over silently dropping a delivery.
	assert.Equal(t, ClassTemporary, Classify(0, "gremlins"))
	assert.Equal(t, ClassTemporary, Classify(0, ""))
}
