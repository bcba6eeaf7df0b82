package imap

import (
	"fmt"
	"io"

	"github.com/emersion/go-imap"
	"github.com/jhillyerd/enmime"

	"github.com/inboxsift/backend/internal/models"
)

// ParseMessage converts a fetched IMAP message into a MailMessage.
// The declared send date comes from the envelope; when absent, the
// store-assigned reception time is used so ordering never relies on a
// missing value.
func ParseMessage(imapMsg *imap.Message, folderName string) (*models.MailMessage, error) {
	if imapMsg == nil {
		return nil, fmt.Errorf("imap message is nil")
	}

	msg := &models.MailMessage{
		UID:    int64(imapMsg.Uid),
		Folder: folderName,
	}

	if imapMsg.Envelope != nil {
		if len(imapMsg.Envelope.From) > 0 {
			msg.Sender = formatAddress(imapMsg.Envelope.From[0])
		}
		msg.Subject = imapMsg.Envelope.Subject
		msg.MessageID = imapMsg.Envelope.MessageId
		msg.InReplyTo = imapMsg.Envelope.InReplyTo
		if !imapMsg.Envelope.Date.IsZero() {
			date := imapMsg.Envelope.Date
			msg.SentAt = &date
		}
	}

	if msg.SentAt == nil && !imapMsg.InternalDate.IsZero() {
		internalDate := imapMsg.InternalDate
		msg.SentAt = &internalDate
	}

	// Parse body if available
	if imapMsg.Body != nil {
		section := &imap.BodySectionName{}
		bodyReader := imapMsg.GetBody(section)
		if bodyReader != nil {
			if err := parseBody(bodyReader, msg); err != nil {
				// Headers alone are still usable; keep what we have.
				_ = err
			}
		}
	}

	return msg, nil
}

// parseBody parses the raw message with enmime and fills in the body text and
// the headers the envelope does not carry.
func parseBody(bodyReader io.Reader, msg *models.MailMessage) error {
	envelope, err := enmime.ReadEnvelope(bodyReader)
	if err != nil {
		return fmt.Errorf("failed to parse email body: %w", err)
	}

	msg.BodyText = envelope.Text

	if msg.InReplyTo == "" {
		msg.InReplyTo = envelope.GetHeader("In-Reply-To")
	}
	msg.References = envelope.GetHeader("References")
	if msg.ThreadIDHeader == "" {
		msg.ThreadIDHeader = envelope.GetHeader("X-GM-THRID")
	}
	if msg.MessageID == "" {
		msg.MessageID = envelope.GetHeader("Message-ID")
	}

	return nil
}

// formatAddress formats an IMAP address to a string.
func formatAddress(address *imap.Address) string {
	if address == nil {
		return ""
	}

	if address.MailboxName == "" && address.HostName == "" {
		return ""
	}

	if address.PersonalName != "" {
		return fmt.Sprintf("%s <%s@%s>", address.PersonalName, address.MailboxName, address.HostName)
	}

	return fmt.Sprintf("%s@%s", address.MailboxName, address.HostName)
}
