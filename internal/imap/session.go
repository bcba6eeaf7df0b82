package imap

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/emersion/go-imap"
	idle "github.com/emersion/go-imap-idle"
	sortthread "github.com/emersion/go-imap-sortthread"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"

	"github.com/inboxsift/backend/internal/models"
)

// idleFallbackPoll is the polling interval IdleWithFallback uses against
// servers that do not advertise the IDLE capability.
const idleFallbackPoll = 5 * time.Second

// Session is a logged-in IMAP connection with folder state. A Session is
// owned by a single goroutine; it performs no internal locking.
type Session struct {
	client *client.Client
	log    *logrus.Entry
	folder string
}

// NewSession wraps an authenticated IMAP client.
func NewSession(c *client.Client, log *logrus.Entry) *Session {
	return &Session{client: c, log: log}
}

// SelectFolder selects the given folder and returns its message count.
func (s *Session) SelectFolder(name string) (uint32, error) {
	status, err := s.client.Select(name, false)
	if err != nil {
		return 0, fmt.Errorf("failed to select folder %s: %w", name, err)
	}
	s.folder = name
	return status.Messages, nil
}

// Folder returns the currently selected folder name.
func (s *Session) Folder() string {
	return s.folder
}

// SearchAllUIDs returns every UID in the selected folder in ascending order.
func (s *Session) SearchAllUIDs() ([]int64, error) {
	return s.search(imap.NewSearchCriteria())
}

// SearchSinceUID returns all UIDs strictly greater than the given watermark,
// in ascending order.
func (s *Session) SearchSinceUID(watermark int64) ([]int64, error) {
	criteria := imap.NewSearchCriteria()
	seqSet := new(imap.SeqSet)
	seqSet.AddRange(uint32(watermark+1), 0)
	criteria.Uid = seqSet
	return s.search(criteria)
}

// SearchByHeader returns the UIDs of all messages in the selected folder
// carrying the given header value.
func (s *Session) SearchByHeader(name, value string) ([]int64, error) {
	criteria := imap.NewSearchCriteria()
	criteria.Header.Add(name, value)
	return s.search(criteria)
}

func (s *Session) search(criteria *imap.SearchCriteria) ([]int64, error) {
	uids, err := s.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search IMAP: %w", err)
	}

	result := make([]int64, 0, len(uids))
	for _, uid := range uids {
		result = append(result, int64(uid))
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result, nil
}

// FetchMessage fetches the full message for the given UID and parses it.
func (s *Session) FetchMessage(uid int64) (*models.MailMessage, error) {
	imapMsg, err := fetchFullMessage(s.client, uint32(uid))
	if err != nil {
		return nil, err
	}
	return ParseMessage(imapMsg, s.folder)
}

// SiblingUIDs returns the UIDs of all messages in the selected folder that
// belong to the same reply chain as the given UID, using the server-side
// THREAD command with the REFERENCES algorithm. The given UID is included.
func (s *Session) SiblingUIDs(uid int64) ([]int64, error) {
	threadClient := sortthread.NewThreadClient(s.client)

	threads, err := threadClient.UidThread(sortthread.References, imap.NewSearchCriteria())
	if err != nil {
		return nil, fmt.Errorf("THREAD command returned error: %w", err)
	}

	for _, thread := range threads {
		uids := flattenThread(thread, nil)
		for _, candidate := range uids {
			if candidate == int64(uid) {
				sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
				return uids, nil
			}
		}
	}

	return []int64{uid}, nil
}

func flattenThread(thread *sortthread.Thread, uids []int64) []int64 {
	if thread == nil {
		return uids
	}
	if thread.Id != 0 {
		uids = append(uids, int64(thread.Id))
	}
	for _, child := range thread.Children {
		uids = flattenThread(child, uids)
	}
	return uids
}

// Append stores a raw message into the given folder with the given flags.
func (s *Session) Append(folder string, flags []string, raw []byte) error {
	if err := s.client.Append(folder, flags, time.Now(), bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("failed to append to %s: %w", folder, err)
	}
	return nil
}

// AddKeyword adds a custom keyword flag to the message with the given UID in
// the selected folder.
func (s *Session) AddKeyword(uid int64, keyword string) error {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uint32(uid))

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := s.client.UidStore(seqSet, item, []interface{}{keyword}, nil); err != nil {
		return fmt.Errorf("failed to add keyword %s: %w", keyword, err)
	}
	return nil
}

// Keepalive issues a NOOP, which also gives the server a chance to deliver
// pending unilateral updates.
func (s *Session) Keepalive() error {
	if err := s.client.Noop(); err != nil {
		return fmt.Errorf("NOOP failed: %w", err)
	}
	return nil
}

// WaitForNotification blocks in IMAP IDLE on the selected folder until the
// server reports a mailbox change, the timeout elapses, or the context is
// canceled. It returns true when a change was reported, false on a clean
// timeout or cancellation.
func (s *Session) WaitForNotification(ctx context.Context, timeout time.Duration) (bool, error) {
	idleClient := idle.NewClient(s.client)

	updates := make(chan client.Update, 10)
	s.client.Updates = updates
	defer func() { s.client.Updates = nil }()

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- idleClient.IdleWithFallback(stop, idleFallbackPoll)
	}()

	stopAndWait := func() error {
		close(stop)
		return <-done
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = stopAndWait()
			return false, ctx.Err()
		case <-timer.C:
			if err := stopAndWait(); err != nil {
				return false, fmt.Errorf("idle ended with error: %w", err)
			}
			return false, nil
		case err := <-done:
			if err != nil {
				return false, fmt.Errorf("idle ended with error: %w", err)
			}
			return false, nil
		case update := <-updates:
			mboxUpdate, ok := update.(*client.MailboxUpdate)
			if !ok || mboxUpdate.Mailbox == nil {
				continue
			}
			if mboxUpdate.Mailbox.Name != s.folder {
				continue
			}
			s.log.WithField("folder", s.folder).Debug("Mailbox update received")
			if err := stopAndWait(); err != nil {
				return true, fmt.Errorf("idle ended with error: %w", err)
			}
			return true, nil
		}
	}
}

// Close logs out and closes the connection.
func (s *Session) Close() error {
	if err := s.client.Logout(); err != nil {
		return fmt.Errorf("failed to logout: %w", err)
	}
	return nil
}

// fetchFullMessage fetches envelope, flags and the full body for a UID.
func fetchFullMessage(c *client.Client, uid uint32) (*imap.Message, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	items := []imap.FetchItem{
		imap.FetchEnvelope,
		imap.FetchInternalDate,
		imap.FetchFlags,
		imap.FetchUid,
	}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)

	go func() {
		done <- c.UidFetch(seqSet, items, messages)
	}()

	msg := <-messages
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch message: %w", err)
	}
	if msg == nil {
		return nil, fmt.Errorf("server did not return message %d", uid)
	}

	// Fetch the raw body in a second pass.
	section := &imap.BodySectionName{}
	bodyItems := []imap.FetchItem{section.FetchItem(), imap.FetchUid}

	bodyMessages := make(chan *imap.Message, 1)
	bodyDone := make(chan error, 1)

	go func() {
		bodyDone <- c.UidFetch(seqSet, bodyItems, bodyMessages)
	}()

	bodyMsg := <-bodyMessages
	if err := <-bodyDone; err != nil {
		return nil, fmt.Errorf("failed to fetch message body: %w", err)
	}
	if bodyMsg != nil {
		msg.Body = bodyMsg.Body
	}

	return msg, nil
}
