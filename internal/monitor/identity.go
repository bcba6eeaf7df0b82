package monitor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/inboxsift/backend/internal/models"
)

// threadIDPattern is the mail store's thread identifier format: a decimal
// number, optionally dash-separated. Anything else is treated as absent.
var threadIDPattern = regexp.MustCompile(`^[0-9]+(-[0-9]+)*$`)

// deriveConversationID picks the identifier a message's conversation is keyed
// by. First choice is the store-assigned thread id, which groups replies
// across folders. A missing or malformed thread id falls back to the
// message's own Message-ID. A message with neither gets a synthetic singleton
// id so it can never be falsely merged into another conversation.
func deriveConversationID(msg *models.MailMessage, log *logrus.Entry) string {
	threadID := strings.TrimSpace(msg.ThreadIDHeader)
	if threadID != "" && threadIDPattern.MatchString(threadID) {
		return threadID
	}

	messageID := strings.TrimSpace(msg.MessageID)
	if messageID != "" {
		return messageID
	}

	log.WithFields(logrus.Fields{
		"uid":    msg.UID,
		"folder": msg.Folder,
	}).Warn("Message has no thread id or Message-ID, using synthetic conversation id")
	return fmt.Sprintf("no-thread-%d", msg.UID)
}
