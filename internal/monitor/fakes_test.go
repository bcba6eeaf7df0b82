package monitor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/inboxsift/backend/internal/db"
	"github.com/inboxsift/backend/internal/models"
)

// fakeSession is an in-memory MailSession backed by per-folder message lists.
type fakeSession struct {
	mu       sync.Mutex
	folders  map[string][]*models.MailMessage
	selected string

	notify chan bool // non-nil: WaitForNotification reads from it

	selectErr    map[string]error
	searchErr    error
	fetchErr     map[int64]error
	keepaliveErr error

	closed         bool
	fetchCalls     int
	searchCalls    int
	keepaliveCalls int
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		folders:   make(map[string][]*models.MailMessage),
		selectErr: make(map[string]error),
		fetchErr:  make(map[int64]error),
		notify:    make(chan bool, 16),
	}
}

func (s *fakeSession) add(folder string, msg *models.MailMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg.Folder = folder
	s.folders[folder] = append(s.folders[folder], msg)
}

func (s *fakeSession) SelectFolder(name string) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.selectErr[name]; err != nil {
		return 0, err
	}
	s.selected = name
	return uint32(len(s.folders[name])), nil
}

func (s *fakeSession) SearchAllUIDs() ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searchCalls++
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	uids := make([]int64, 0)
	for _, msg := range s.folders[s.selected] {
		uids = append(uids, msg.UID)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

func (s *fakeSession) SearchSinceUID(watermark int64) ([]int64, error) {
	all, err := s.SearchAllUIDs()
	if err != nil {
		return nil, err
	}
	uids := make([]int64, 0)
	for _, uid := range all {
		if uid > watermark {
			uids = append(uids, uid)
		}
	}
	return uids, nil
}

func (s *fakeSession) SearchByHeader(name, value string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	uids := make([]int64, 0)
	for _, msg := range s.folders[s.selected] {
		var match bool
		switch name {
		case "X-GM-THRID":
			match = msg.ThreadIDHeader == value
		case "Message-ID":
			match = msg.MessageID == value
		}
		if match {
			uids = append(uids, msg.UID)
		}
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

func (s *fakeSession) FetchMessage(uid int64) (*models.MailMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchCalls++
	if err := s.fetchErr[uid]; err != nil {
		return nil, err
	}
	for _, msg := range s.folders[s.selected] {
		if msg.UID == uid {
			return msg, nil
		}
	}
	return nil, fmt.Errorf("uid %d not found in %s", uid, s.selected)
}

// SiblingUIDs approximates REFERENCES threading: the target plus every
// message in the folder reference-linked to it.
func (s *fakeSession) SiblingUIDs(uid int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var target *models.MailMessage
	for _, msg := range s.folders[s.selected] {
		if msg.UID == uid {
			target = msg
			break
		}
	}
	if target == nil {
		return []int64{uid}, nil
	}

	uids := []int64{uid}
	for _, msg := range s.folders[s.selected] {
		if msg.UID == uid {
			continue
		}
		linked := (msg.MessageID != "" && strings.Contains(target.References+" "+target.InReplyTo, msg.MessageID)) ||
			(target.MessageID != "" && strings.Contains(msg.References+" "+msg.InReplyTo, target.MessageID))
		if linked {
			uids = append(uids, msg.UID)
		}
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

func (s *fakeSession) WaitForNotification(ctx context.Context, timeout time.Duration) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case notified, ok := <-s.notify:
		if !ok {
			return false, fmt.Errorf("connection lost")
		}
		return notified, nil
	case <-time.After(timeout):
		return false, nil
	}
}

func (s *fakeSession) Keepalive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keepaliveCalls++
	return s.keepaliveErr
}

func (s *fakeSession) keepalives() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keepaliveCalls
}

func (s *fakeSession) searches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.searchCalls
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// fakeThreadStore is an in-memory ThreadStore.
type fakeThreadStore struct {
	mu       sync.Mutex
	members  map[string]map[models.DedupKey]models.Member // tenant|conv
	subjects map[string]string

	upsertErr error
}

func newFakeThreadStore() *fakeThreadStore {
	return &fakeThreadStore{
		members:  make(map[string]map[models.DedupKey]models.Member),
		subjects: make(map[string]string),
	}
}

func convKey(tenant, conversationID string) string {
	return tenant + "|" + conversationID
}

func (f *fakeThreadStore) UpsertMember(_ context.Context, member models.Member, subject string) (db.AdmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return db.Admitted, f.upsertErr
	}

	key := convKey(member.Tenant, member.ConversationID)
	if f.members[key] == nil {
		f.members[key] = make(map[models.DedupKey]models.Member)
		f.subjects[key] = subject
	}
	dedup := models.DedupKey{UID: member.UID, Folder: member.Folder}
	if _, ok := f.members[key][dedup]; ok {
		return db.Duplicate, nil
	}
	f.members[key][dedup] = member
	return db.Admitted, nil
}

func (f *fakeThreadStore) GetConversation(_ context.Context, tenant, conversationID string, limit int) (*models.ConversationView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := convKey(tenant, conversationID)
	stored, ok := f.members[key]
	if !ok {
		return nil, db.ErrConversationNotFound
	}

	members := make([]models.Member, 0, len(stored))
	for _, m := range stored {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool {
		a, b := members[i], members[j]
		if a.SentAt == nil {
			return false
		}
		if b.SentAt == nil {
			return true
		}
		return a.SentAt.Before(*b.SentAt)
	})

	total := len(members)
	older := 0
	if limit > 0 && total > limit {
		older = total - limit
		members = members[older:]
	}

	return &models.ConversationView{
		ConversationID: conversationID,
		Subject:        f.subjects[key],
		Members:        members,
		TotalMembers:   total,
		OlderCount:     older,
	}, nil
}

func (f *fakeThreadStore) DedupKeys(_ context.Context, tenant, conversationID string) (map[models.DedupKey]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	keys := make(map[models.DedupKey]struct{})
	for dedup := range f.members[convKey(tenant, conversationID)] {
		keys[dedup] = struct{}{}
	}
	return keys, nil
}

func (f *fakeThreadStore) HasMember(_ context.Context, tenant string, uid int64, folder string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	dedup := models.DedupKey{UID: uid, Folder: folder}
	for key, stored := range f.members {
		if !strings.HasPrefix(key, tenant+"|") {
			continue
		}
		if _, ok := stored[dedup]; ok {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeThreadStore) HasConversation(_ context.Context, tenant, conversationID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.members[convKey(tenant, conversationID)]
	return ok, nil
}

func (f *fakeThreadStore) memberCount(tenant, conversationID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.members[convKey(tenant, conversationID)])
}

// fakeWatermarkStore is an in-memory WatermarkStore.
type fakeWatermarkStore struct {
	mu         sync.Mutex
	watermarks map[string]*int64

	getErr     error
	advanceErr error
}

func newFakeWatermarkStore() *fakeWatermarkStore {
	return &fakeWatermarkStore{watermarks: make(map[string]*int64)}
}

func (f *fakeWatermarkStore) GetWatermark(_ context.Context, tenant string) (*int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	if wm := f.watermarks[tenant]; wm != nil {
		value := *wm
		return &value, nil
	}
	return nil, nil
}

func (f *fakeWatermarkStore) AdvanceWatermark(_ context.Context, tenant string, uid int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.advanceErr != nil {
		return f.advanceErr
	}
	f.watermarks[tenant] = &uid
	return nil
}

func (f *fakeWatermarkStore) InitializeWatermarkFromLatest(_ context.Context, tenant string, baseline int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.watermarks[tenant] == nil {
		f.watermarks[tenant] = &baseline
	}
	return nil
}

func (f *fakeWatermarkStore) get(tenant string) *int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watermarks[tenant]
}

// fakeClassifier records classification calls.
type fakeClassifier struct {
	mu    sync.Mutex
	calls []*models.ConversationView
	err   error
}

func (f *fakeClassifier) Classify(_ context.Context, _ string, view *models.ConversationView) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, view)
	return nil
}

func (f *fakeClassifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeDialer hands out a prepared session.
type fakeDialer struct {
	mu       sync.Mutex
	sessions []*fakeSession
	err      error
	dials    int
}

func (f *fakeDialer) Dial(_ context.Context, _ string) (MailSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		f.dials++
		return nil, f.err
	}
	if f.dials >= len(f.sessions) {
		f.dials++
		return nil, fmt.Errorf("no more sessions")
	}
	session := f.sessions[f.dials]
	f.dials++
	return session, nil
}

func (f *fakeDialer) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

// fakeTokenSource returns a settable token.
type fakeTokenSource struct {
	mu    sync.Mutex
	token string
}

func (f *fakeTokenSource) AccessToken(_ context.Context, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token, nil
}

func (f *fakeTokenSource) set(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
}
