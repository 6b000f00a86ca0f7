package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"portfoliochat/internal/models"
	"portfoliochat/internal/storage"
	"portfoliochat/internal/worker"
)

type replierFunc func(ctx context.Context, text string) (string, error)

func (f replierFunc) Reply(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

func echoReplier() Replier {
	return replierFunc(func(_ context.Context, text string) (string, error) {
		return "echo: " + text, nil
	})
}

type busyDispatcher struct{}

func (busyDispatcher) Submit(worker.Job) error { return worker.ErrDispatcherBusy }
func (busyDispatcher) CancelChat(string)       {}

func newTestManager(t *testing.T, store *storage.MemoryStore, replier Replier) *Manager {
	t.Helper()
	d := worker.NewDispatcher(worker.DispatcherConfig{
		MinWorkers:        1,
		MaxWorkers:        4,
		QueueSize:         16,
		WorkerIdleTimeout: time.Minute,
	})
	t.Cleanup(d.Close)
	return NewManager(context.Background(), store, replier, d)
}

func waitIdle(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Wait(ctx); err != nil {
		t.Fatalf("wait for replies: %v", err)
	}
}

func storedChats(t *testing.T, store *storage.MemoryStore) []models.Chat {
	t.Helper()
	return storage.DecodeHistory(store.Raw())
}

func seedStore(t *testing.T, chats []models.Chat) *storage.MemoryStore {
	t.Helper()
	raw, err := storage.EncodeHistory(chats)
	if err != nil {
		t.Fatalf("encode history: %v", err)
	}
	store := storage.NewMemoryStore()
	store.SetRaw(raw)
	return store
}

func fourMessageChat(id string) models.Chat {
	return models.Chat{
		ID: id,
		Messages: []models.ChatMessage{
			{ID: id + "-1", Role: models.RoleUser, Text: "What do you do?"},
			{ID: id + "-2", Role: models.RoleAssistant, Text: "Security research."},
			{ID: id + "-3", Role: models.RoleUser, Text: "Which tools?"},
			{ID: id + "-4", Role: models.RoleAssistant, Text: "Mostly Go."},
		},
		CreatedAt: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestSubmitBlankIsNoop(t *testing.T) {
	store := storage.NewMemoryStore()
	m := newTestManager(t, store, echoReplier())

	for _, text := range []string{"", "   ", "\n\t"} {
		if _, ok := m.Submit(text); ok {
			t.Fatalf("blank input %q should be ignored", text)
		}
	}
	snap := m.Snapshot()
	if len(snap.Messages) != 0 || snap.ActiveID != "" || snap.Loading {
		t.Fatalf("state changed by blank input: %#v", snap)
	}
	if len(m.History()) != 0 || store.Raw() != nil {
		t.Fatalf("history changed by blank input")
	}
}

func TestSubmitStartsChatAndAppendsReply(t *testing.T) {
	store := storage.NewMemoryStore()
	m := newTestManager(t, store, echoReplier())

	msg, ok := m.Submit("  hello  ")
	if !ok {
		t.Fatalf("expected submit to be accepted")
	}
	if msg.Role != models.RoleUser || msg.Text != "  hello  " {
		t.Fatalf("unexpected user message %#v", msg)
	}
	waitIdle(t, m)

	snap := m.Snapshot()
	if len(snap.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(snap.Messages))
	}
	if snap.Messages[1].Role != models.RoleAssistant || snap.Messages[1].Text != "echo:   hello  " {
		t.Fatalf("unexpected reply %#v", snap.Messages[1])
	}
	if snap.Loading || snap.Error != "" {
		t.Fatalf("unexpected view state %#v", snap)
	}

	history := m.History()
	if len(history) != 1 || history[0].ID != snap.ActiveID || len(history[0].Messages) != 2 {
		t.Fatalf("unexpected history %#v", history)
	}
	if history[0].CreatedAt.IsZero() {
		t.Fatalf("chat has no creation time")
	}
	stored := storedChats(t, store)
	if len(stored) != 1 || len(stored[0].Messages) != 2 {
		t.Fatalf("store not mirrored: %#v", stored)
	}
}

func TestSubmitWhenBackendFails(t *testing.T) {
	store := storage.NewMemoryStore()
	fail := true
	m := newTestManager(t, store, replierFunc(func(context.Context, string) (string, error) {
		if fail {
			return "", errors.New("connection refused")
		}
		return "back online", nil
	}))

	m.Submit("hi")
	waitIdle(t, m)

	snap := m.Snapshot()
	if len(snap.Messages) != 2 || snap.Messages[1].Text != ErrorReplyText {
		t.Fatalf("expected error reply, got %#v", snap.Messages)
	}
	if snap.Error != ErrorBanner {
		t.Fatalf("expected error banner, got %q", snap.Error)
	}
	if stored := storedChats(t, store); len(stored) != 1 || len(stored[0].Messages) != 2 {
		t.Fatalf("unexpected stored history %#v", stored)
	}

	fail = false
	m.Submit("again")
	if got := m.Snapshot().Error; got != "" {
		t.Fatalf("submit should clear the error, got %q", got)
	}
	waitIdle(t, m)
	snap = m.Snapshot()
	if len(snap.Messages) != 4 || snap.Messages[3].Text != "back online" || snap.Error != "" {
		t.Fatalf("unexpected state after recovery %#v", snap)
	}
}

func TestSubmitWhenDispatcherBusy(t *testing.T) {
	m := NewManager(context.Background(), storage.NewMemoryStore(), echoReplier(), busyDispatcher{})

	m.Submit("hi")
	snap := m.Snapshot()
	if len(snap.Messages) != 2 || snap.Messages[1].Text != ErrorReplyText {
		t.Fatalf("expected immediate error reply, got %#v", snap.Messages)
	}
	if snap.Loading || snap.Error != ErrorBanner {
		t.Fatalf("unexpected view state %#v", snap)
	}
}

func TestSelectLoadsChat(t *testing.T) {
	store := seedStore(t, []models.Chat{fourMessageChat("a"), fourMessageChat("b")})
	m := newTestManager(t, store, echoReplier())

	if err := m.Select("b"); err != nil {
		t.Fatalf("select: %v", err)
	}
	snap := m.Snapshot()
	if snap.ActiveID != "b" || len(snap.Messages) != 4 || snap.Messages[0].ID != "b-1" {
		t.Fatalf("unexpected snapshot %#v", snap)
	}

	if err := m.Select("missing"); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("expected ErrChatNotFound, got %v", err)
	}
	if m.Snapshot().ActiveID != "b" {
		t.Fatalf("unknown id must not change the active chat")
	}

	m.Submit("more")
	waitIdle(t, m)
	history := m.History()
	if len(history) != 2 || len(history[1].Messages) != 6 || len(history[0].Messages) != 4 {
		t.Fatalf("submit should extend the active chat: %#v", history)
	}
}

func TestNewSessionStartsNextChat(t *testing.T) {
	m := newTestManager(t, storage.NewMemoryStore(), echoReplier())

	m.Submit("first")
	waitIdle(t, m)
	m.NewSession()
	if snap := m.Snapshot(); snap.ActiveID != "" || len(snap.Messages) != 0 {
		t.Fatalf("new session should clear the view: %#v", snap)
	}
	m.Submit("second")
	waitIdle(t, m)

	history := m.History()
	if len(history) != 2 {
		t.Fatalf("expected 2 chats, got %d", len(history))
	}
	if history[0].Messages[0].Text != "first" || history[1].Messages[0].Text != "second" {
		t.Fatalf("history out of creation order: %#v", history)
	}
	if m.Snapshot().ActiveID != history[1].ID {
		t.Fatalf("new chat should be active")
	}
}

func TestDeleteActiveChat(t *testing.T) {
	store := seedStore(t, []models.Chat{fourMessageChat("a"), fourMessageChat("b")})
	m := newTestManager(t, store, echoReplier())

	_ = m.Select("a")
	if err := m.Delete("a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	snap := m.Snapshot()
	if snap.ActiveID != "" || len(snap.Messages) != 0 {
		t.Fatalf("deleting the active chat should reset the view: %#v", snap)
	}
	if stored := storedChats(t, store); len(stored) != 1 || stored[0].ID != "b" {
		t.Fatalf("unexpected stored history %#v", stored)
	}
	if err := m.Delete("a"); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("expected ErrChatNotFound, got %v", err)
	}
}

func TestDeleteOtherChatKeepsView(t *testing.T) {
	store := seedStore(t, []models.Chat{fourMessageChat("a"), fourMessageChat("b")})
	m := newTestManager(t, store, echoReplier())

	_ = m.Select("b")
	if err := m.Delete("a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	snap := m.Snapshot()
	if snap.ActiveID != "b" || len(snap.Messages) != 4 {
		t.Fatalf("view should be untouched: %#v", snap)
	}
	if history := m.History(); len(history) != 1 || history[0].ID != "b" {
		t.Fatalf("unexpected history %#v", history)
	}
}

func TestClearAllRemovesRecord(t *testing.T) {
	store := seedStore(t, []models.Chat{fourMessageChat("a")})
	m := newTestManager(t, store, echoReplier())

	_ = m.Select("a")
	if err := m.ClearAll(context.Background()); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if store.Raw() != nil {
		t.Fatalf("stored record should be removed")
	}
	snap := m.Snapshot()
	if len(m.History()) != 0 || snap.ActiveID != "" || len(snap.Messages) != 0 || snap.Error != "" {
		t.Fatalf("state not reset: %#v", snap)
	}
}

func TestReplyAfterSessionSwitchGoesToHistoryOnly(t *testing.T) {
	release := make(chan struct{})
	m := newTestManager(t, storage.NewMemoryStore(), replierFunc(func(ctx context.Context, text string) (string, error) {
		<-release
		return "late reply", nil
	}))

	m.Submit("question")
	snap := m.Snapshot()
	if !snap.Loading {
		t.Fatalf("expected loading while reply is pending")
	}
	if len(snap.Messages) != 1 || snap.Messages[0].Role != models.RoleUser || snap.Messages[0].Text != "question" {
		t.Fatalf("user message should be visible before the reply: %#v", snap.Messages)
	}
	m.NewSession()
	if m.Snapshot().Loading {
		t.Fatalf("new session should not show the other chat's loading state")
	}
	close(release)
	waitIdle(t, m)

	if snap := m.Snapshot(); len(snap.Messages) != 0 {
		t.Fatalf("late reply leaked into the new session: %#v", snap.Messages)
	}
	history := m.History()
	if len(history) != 1 || len(history[0].Messages) != 2 || history[0].Messages[1].Text != "late reply" {
		t.Fatalf("late reply should land in its own chat: %#v", history)
	}
}

func TestReplyForDeletedChatIsDropped(t *testing.T) {
	store := storage.NewMemoryStore()
	started := make(chan struct{})
	returned := make(chan struct{})
	m := newTestManager(t, store, replierFunc(func(ctx context.Context, text string) (string, error) {
		close(started)
		defer close(returned)
		<-ctx.Done()
		return "", ctx.Err()
	}))

	m.Submit("question")
	<-started
	chatID := m.Snapshot().ActiveID
	if err := m.Delete(chatID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	waitIdle(t, m)

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatalf("relay call was not cancelled")
	}
	if len(m.History()) != 0 {
		t.Fatalf("reply for a deleted chat must be dropped")
	}
	if snap := m.Snapshot(); len(snap.Messages) != 0 || snap.Error != "" {
		t.Fatalf("unexpected view state %#v", snap)
	}
}

func TestWaitHonoursContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	m := newTestManager(t, storage.NewMemoryStore(), replierFunc(func(ctx context.Context, text string) (string, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return "ok", nil
	}))

	if err := m.Wait(context.Background()); err != nil {
		t.Fatalf("idle manager should not block: %v", err)
	}
	m.Submit("slow")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := m.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestPanickingReplierYieldsErrorReply(t *testing.T) {
	store := storage.NewMemoryStore()
	m := newTestManager(t, store, replierFunc(func(context.Context, string) (string, error) {
		panic("boom")
	}))

	m.Submit("hi")
	waitIdle(t, m)

	snap := m.Snapshot()
	if snap.Loading {
		t.Fatalf("chat should not stay loading after a failed reply")
	}
	if len(snap.Messages) != 2 || snap.Messages[1].Role != models.RoleAssistant || snap.Messages[1].Text != ErrorReplyText {
		t.Fatalf("expected one error reply, got %#v", snap.Messages)
	}
	if snap.Error != ErrorBanner {
		t.Fatalf("expected error banner, got %q", snap.Error)
	}
	if stored := storedChats(t, store); len(stored) != 1 || len(stored[0].Messages) != 2 {
		t.Fatalf("unexpected stored history %#v", stored)
	}
}

func TestCorruptEntriesAreNotLoaded(t *testing.T) {
	store := storage.NewMemoryStore()
	store.SetRaw([]byte(`[null, {}, {"id":"x","messages":[{"id":"m1","role":"bogus","text":"hi"}]}]`))
	m := newTestManager(t, store, echoReplier())

	if history := m.History(); len(history) != 0 {
		t.Fatalf("invalid entries should be dropped on load, got %#v", history)
	}
	if err := m.Delete(""); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("expected ErrChatNotFound, got %v", err)
	}
}

type deadlineStore struct {
	*storage.MemoryStore
	saves       int
	noDeadlines int
}

func (s *deadlineStore) Save(ctx context.Context, chats []models.Chat) error {
	s.saves++
	if _, ok := ctx.Deadline(); !ok {
		s.noDeadlines++
	}
	return s.MemoryStore.Save(ctx, chats)
}

func TestSavesAreBounded(t *testing.T) {
	store := &deadlineStore{MemoryStore: storage.NewMemoryStore()}
	m := NewManager(context.Background(), store, echoReplier(), busyDispatcher{})

	if _, ok := m.Submit("hello"); !ok {
		t.Fatalf("submit rejected")
	}
	if store.saves != 2 {
		t.Fatalf("expected 2 saves, got %d", store.saves)
	}
	if store.noDeadlines != 0 {
		t.Fatalf("%d saves ran without a deadline", store.noDeadlines)
	}
}
