package testutil

import (
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/memory"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
)

// TestIMAPServer represents a test IMAP server instance.
type TestIMAPServer struct {
	Server   *server.Server
	Address  string
	Backend  *memory.Backend
	cleanup  func()
	username string
	password string
}

// TestMessage describes a message appended to the test server.
type TestMessage struct {
	Folder    string
	MessageID string
	Subject   string
	From      string
	To        string
	SentAt    time.Time
	InReplyTo string
	Body      string
}

// NewTestIMAPServer creates a new test IMAP server with an in-memory backend.
// The memory backend creates a default user with username "username" and password "password".
func NewTestIMAPServer(t *testing.T) *TestIMAPServer {
	t.Helper()

	be := memory.New()

	s := server.New(be)
	s.AllowInsecureAuth = true

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	addr := listener.Addr().String()

	go func() {
		if err := s.Serve(listener); err != nil {
			t.Logf("IMAP server error: %v", err)
		}
	}()

	// Give server time to start
	time.Sleep(100 * time.Millisecond)

	cleanup := func() {
		err := s.Close()
		if err != nil {
			return
		}
	}

	return &TestIMAPServer{
		Server:   s,
		Address:  addr,
		Backend:  be,
		cleanup:  cleanup,
		username: "username",
		password: "password",
	}
}

// Close shuts down the test IMAP server.
func (s *TestIMAPServer) Close() {
	if s.cleanup != nil {
		s.cleanup()
	}
}

// Username returns the default test username.
func (s *TestIMAPServer) Username() string {
	return s.username
}

// Password returns the default test password.
func (s *TestIMAPServer) Password() string {
	return s.password
}

// Connect creates a new IMAP client connection to the test server.
func (s *TestIMAPServer) Connect(t *testing.T) (*imapclient.Client, func()) {
	t.Helper()

	client, err := imapclient.Dial(s.Address)
	if err != nil {
		t.Fatalf("Failed to connect to test server: %v", err)
	}

	if err := client.Login(s.username, s.password); err != nil {
		_ = client.Logout()
		t.Fatalf("Failed to login: %v", err)
	}

	cleanup := func() {
		_ = client.Logout()
	}

	return client, cleanup
}

// EnsureFolder ensures the given folder exists for the default user.
func (s *TestIMAPServer) EnsureFolder(t *testing.T, folderName string) {
	t.Helper()

	client, cleanup := s.Connect(t)
	defer cleanup()

	if _, err := client.Select(folderName, false); err != nil {
		if err := client.Create(folderName); err != nil {
			t.Fatalf("Failed to create folder %s: %v", folderName, err)
		}
		if _, err := client.Select(folderName, false); err != nil {
			t.Fatalf("Failed to select folder %s: %v", folderName, err)
		}
	}
}

// AddMessage appends a test message to the given folder and returns its UID.
func (s *TestIMAPServer) AddMessage(t *testing.T, msg TestMessage) int64 {
	t.Helper()

	client, cleanup := s.Connect(t)
	defer cleanup()

	if _, err := client.Select(msg.Folder, false); err != nil {
		t.Fatalf("Failed to select folder: %v", err)
	}

	body := msg.Body
	if body == "" {
		body = "Test message body."
	}

	var headers strings.Builder
	headers.WriteString(fmt.Sprintf("Message-ID: %s\r\n", msg.MessageID))
	headers.WriteString(fmt.Sprintf("Date: %s\r\n", msg.SentAt.Format(time.RFC1123Z)))
	headers.WriteString(fmt.Sprintf("From: %s\r\n", msg.From))
	headers.WriteString(fmt.Sprintf("To: %s\r\n", msg.To))
	headers.WriteString(fmt.Sprintf("Subject: %s\r\n", msg.Subject))
	if msg.InReplyTo != "" {
		headers.WriteString(fmt.Sprintf("In-Reply-To: %s\r\n", msg.InReplyTo))
		headers.WriteString(fmt.Sprintf("References: %s\r\n", msg.InReplyTo))
	}
	headers.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")

	raw := headers.String() + body + "\r\n"

	flags := []string{imap.SeenFlag}
	if err := client.Append(msg.Folder, flags, time.Now(), strings.NewReader(raw)); err != nil {
		t.Fatalf("Failed to append message: %v", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.Header.Add("Message-ID", msg.MessageID)
	uids, err := client.UidSearch(criteria)
	if err != nil {
		t.Fatalf("Failed to search for message: %v", err)
	}

	if len(uids) == 0 {
		t.Fatalf("Message not found after append")
	}

	return int64(uids[0])
}
