package bounce

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Atharva-Werulkar/mailsuite-backend/internal/model"
)

func TestParse_HardBounce(t *testing.T) {
	body := `
This is an automatically generated Delivery Status Notification.

Delivery to the following recipient failed permanently:

    jane.doe@example.com

Technical details of permanent failure:
Google tried to deliver your message, but it was rejected by the server.
The error that the other server returned was:
550 5.1.1 The email account that you tried to reach does not exist.

Final-Recipient: rfc822; jane.doe@example.com
Action: failed
Status: 5.1.1
Diagnostic-Code: smtp; 550-5.1.1 The email account that you tried to reach does not exist.
`
	result := Parse(model.RawMessage{Body: body, Subject: "Delivery Status Notification (Failure)"})
	assert.Equal(t, "jane.doe@example.com", result.FailedRecipient)
	assert.Equal(t, "550", result.ErrorCode)
	assert.Equal(t, model.BounceHard, result.Type)
	assert.NotEmpty(t, result.Diagnostic)
}

func TestParse_SoftBounce(t *testing.T) {
	body := `
Your message could not be delivered to john@example.org because the
recipient's mailbox is full. The server responded with:

450 4.2.2 Mailbox full, try again later
`
	result := Parse(model.RawMessage{Body: body, Subject: "Undeliverable: Test"})
	assert.Equal(t, "john@example.org", result.FailedRecipient)
	assert.Equal(t, "450", result.ErrorCode)
	assert.Equal(t, model.BounceSoft, result.Type)
}

func TestParse_NoRecipientFound(t *testing.T) {
	result := Parse(model.RawMessage{Body: "no addresses in here at all", Subject: "bounce"})
	assert.Empty(t, result.FailedRecipient)
	assert.Equal(t, "UNKNOWN", result.ErrorCode)
	assert.Equal(t, model.BounceUnknown, result.Type)
}

func TestParse_RejectsSystemAndMalformedAddresses(t *testing.T) {
	assert.False(t, validAddress("postmaster@example.com"))
	assert.False(t, validAddress("not-an-address"))
	assert.False(t, validAddress("a@b"))
	assert.False(t, validAddress("user@mx.google.com"))
	assert.True(t, validAddress("real.person@example.com"))
}

func TestParse_DiagnosticIsCleanedAndBounded(t *testing.T) {
	body := `Status: 5.1.1 (address not found because it does not exist. Visit https://support.example.com/bounce for help. ===)`
	diag := extractDiagnostic(body)
	assert.NotContains(t, diag, "http")
	assert.LessOrEqual(t, len(diag), 300)
}
