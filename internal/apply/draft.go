package apply

import (
	"bytes"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jhillyerd/enmime"

	"github.com/inboxsift/backend/internal/models"
)

// BuildReply renders an RFC 822 reply to the given conversation member,
// threaded via In-Reply-To and References so mail clients file it with the
// original.
func BuildReply(from string, latest *models.Member, subject, body string) ([]byte, error) {
	toName, toAddress := splitAddress(latest.Sender)
	builder := enmime.Builder().
		From("", from).
		To(toName, toAddress).
		Subject(replySubject(subject)).
		Date(time.Now().UTC()).
		Header("Message-Id", fmt.Sprintf("<%s@inboxsift>", uuid.NewString())).
		Text([]byte(body))

	if latest.MessageID != "" {
		builder = builder.
			Header("In-Reply-To", latest.MessageID).
			Header("References", latest.MessageID)
	}

	part, err := builder.Build()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := part.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// splitAddress breaks a display-formatted address ("Name <a@b>") into its
// name and bare address. Anything unparseable is passed through as a bare
// address.
func splitAddress(sender string) (name, address string) {
	parsed, err := mail.ParseAddress(sender)
	if err != nil {
		return "", sender
	}
	return parsed.Name, parsed.Address
}

func replySubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	return "Re: " + subject
}
