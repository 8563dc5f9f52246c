package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Atharva-Werulkar/mailsuite-backend/internal/model"
)

func msg(from, subject string, headers map[string][]string) model.RawMessage {
	return model.RawMessage{
		From:    model.Address{Addr: from},
		Subject: subject,
		Headers: headers,
	}
}

func TestClassify_Bounce(t *testing.T) {
	cat, conf := Classify(msg("mailer-daemon@example.com", "hello", nil))
	assert.Equal(t, model.CategoryBounce, cat)
	assert.Equal(t, 1.00, conf)

	cat, conf = Classify(msg("someone@example.com", "Undelivered Mail Returned to Sender", nil))
	assert.Equal(t, model.CategoryBounce, cat)
	assert.Equal(t, 1.00, conf)
}

func TestClassify_Transactional(t *testing.T) {
	cat, conf := Classify(msg("noreply@example.com", "Your order confirmation", nil))
	assert.Equal(t, model.CategoryTransactional, cat)
	assert.Equal(t, 0.90, conf)
}

func TestClassify_TransactionalDemotedByListUnsubscribe(t *testing.T) {
	headers := map[string][]string{"List-Unsubscribe": {"<mailto:x@y.com>"}}
	cat, _ := Classify(msg("noreply@example.com", "Your order confirmation", headers))
	assert.NotEqual(t, model.CategoryTransactional, cat)
}

func TestClassify_Notification(t *testing.T) {
	cat, conf := Classify(msg("alerts@example.com", "New comment on your post", nil))
	assert.Equal(t, model.CategoryNotification, cat)
	assert.Equal(t, 0.85, conf)
}

func TestClassify_Newsletter(t *testing.T) {
	headers := map[string][]string{
		"List-Unsubscribe": {"<mailto:x@y.com>"},
		"List-Post":        {"<mailto:list@y.com>"},
	}
	cat, conf := Classify(msg("newsletter@example.com", "This week in Go", headers))
	assert.Equal(t, model.CategoryNewsletter, cat)
	assert.Equal(t, 0.75, conf)
}

func TestClassify_Marketing(t *testing.T) {
	headers := map[string][]string{"List-Unsubscribe": {"<mailto:x@y.com>"}}
	cat, conf := Classify(msg("deals@example.com", "50% off everything", headers))
	assert.Equal(t, model.CategoryMarketing, cat)
	assert.Equal(t, 0.80, conf)
}

func TestClassify_Human(t *testing.T) {
	msgObj := model.RawMessage{
		From:    model.Address{Addr: "jane@example.com"},
		Subject: "lunch tomorrow?",
		To:      []model.Address{{Addr: "me@example.com"}},
	}
	cat, conf := Classify(msgObj)
	assert.Equal(t, model.CategoryHuman, cat)
	assert.Equal(t, 0.70, conf)
}

func TestClassify_Unknown(t *testing.T) {
	msgObj := model.RawMessage{
		From:    model.Address{Addr: "list@example.com"},
		Subject: "random subject with no signal",
		To: []model.Address{
			{Addr: "a@example.com"},
			{Addr: "b@example.com"},
		},
		Headers: map[string][]string{"List-Id": {"<list.example.com>"}},
	}
	cat, conf := Classify(msgObj)
	assert.Equal(t, model.CategoryUnknown, cat)
	assert.Equal(t, 0.00, conf)
}

func TestClassify_PriorityOrderBounceBeatsTransactional(t *testing.T) {
	// A bounce from a transactional-looking sender is still a bounce.
	cat, _ := Classify(msg("mailer-daemon@example.com", "payment received", nil))
	assert.Equal(t, model.CategoryBounce, cat)
}
