package monitor

import (
	"testing"

	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"

	"github.com/inboxsift/backend/internal/models"
)

func TestDeriveConversationID(t *testing.T) {
	tests := []struct {
		name string
		msg  models.MailMessage
		want string
	}{
		{
			name: "prefers well-formed thread id",
			msg:  models.MailMessage{UID: 7, ThreadIDHeader: "1234567890", MessageID: "<a@example.com>"},
			want: "1234567890",
		},
		{
			name: "accepts dash-separated thread id",
			msg:  models.MailMessage{UID: 7, ThreadIDHeader: "123-456-789", MessageID: "<a@example.com>"},
			want: "123-456-789",
		},
		{
			name: "malformed thread id falls back to message id",
			msg:  models.MailMessage{UID: 7, ThreadIDHeader: "not-a-thread-id", MessageID: "<a@example.com>"},
			want: "<a@example.com>",
		},
		{
			name: "missing thread id falls back to message id",
			msg:  models.MailMessage{UID: 7, MessageID: "<a@example.com>"},
			want: "<a@example.com>",
		},
		{
			name: "whitespace thread id falls back to message id",
			msg:  models.MailMessage{UID: 7, ThreadIDHeader: "   ", MessageID: "<a@example.com>"},
			want: "<a@example.com>",
		},
		{
			name: "nothing available yields synthetic singleton id",
			msg:  models.MailMessage{UID: 42},
			want: "no-thread-42",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, _ := logrustest.NewNullLogger()
			got := deriveConversationID(&tt.msg, logrus.NewEntry(log))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDeriveConversationIDWarnsOnSynthetic(t *testing.T) {
	log, hook := logrustest.NewNullLogger()
	msg := models.MailMessage{UID: 9}

	got := deriveConversationID(&msg, logrus.NewEntry(log))

	assert.Equal(t, "no-thread-9", got)
	entry := hook.LastEntry()
	assert.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
}
