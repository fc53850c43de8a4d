package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/taskhive/messaging/internal/channel"
	"github.com/taskhive/messaging/internal/domain"
	"github.com/taskhive/messaging/internal/store"
)

// publishingStore mimics the server side: every append fans the confirmed
// message out over the broker, which is how engines receive their own echo.
type publishingStore struct {
	*store.Memory
	broker *channel.LocalBroker
}

func (s *publishingStore) Append(ctx context.Context, sender, recipient, text, contextID string) (*domain.Message, error) {
	msg, err := s.Memory.Append(ctx, sender, recipient, text, contextID)
	if err != nil {
		return nil, err
	}
	if err := s.broker.Publish(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func newTestBackend() (*publishingStore, *channel.LocalBroker) {
	broker := channel.NewLocalBroker(64)
	return &publishingStore{Memory: store.NewMemory(), broker: broker}, broker
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func confirmedTexts(entries []Entry) []string {
	var out []string
	for _, en := range entries {
		if !en.Pending {
			out = append(out, en.Message.Text)
		}
	}
	return out
}

func assertOrdered(t *testing.T, entries []Entry) {
	t.Helper()
	seen := make(map[string]struct{}, len(entries))
	sawPending := false
	for i, en := range entries {
		if _, dup := seen[en.Message.ID]; dup {
			t.Fatalf("duplicate id %q at index %d", en.Message.ID, i)
		}
		seen[en.Message.ID] = struct{}{}
		if en.Pending {
			sawPending = true
			continue
		}
		if sawPending {
			t.Fatalf("confirmed entry %q after a pending entry", en.Message.ID)
		}
		if i > 0 && !entries[i-1].Pending {
			if !entries[i-1].Message.Before(&en.Message) {
				t.Fatalf("entries out of order at index %d: %q !< %q",
					i, entries[i-1].Message.ID, en.Message.ID)
			}
		}
	}
}

func TestOpenLoadsNewestPage(t *testing.T) {
	backend, broker := newTestBackend()
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		if _, err := backend.Memory.Append(ctx, "alice", "bob", fmt.Sprintf("msg-%02d", i), ""); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	e := NewEngine("bob", "alice", "", backend, broker)
	defer e.Close()

	var mu sync.Mutex
	var deltas []DeltaKind
	e.OnUpdate = func(d Delta) {
		mu.Lock()
		deltas = append(deltas, d.Kind)
		mu.Unlock()
	}

	if err := e.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}
	if got := e.State(); got != StateReady {
		t.Fatalf("state after open = %v, want %v", got, StateReady)
	}

	entries := e.Snapshot()
	if len(entries) != DefaultPageSize {
		t.Fatalf("loaded %d entries, want %d", len(entries), DefaultPageSize)
	}
	assertOrdered(t, entries)
	if got := entries[len(entries)-1].Message.Text; got != "msg-29" {
		t.Fatalf("newest entry = %q, want msg-29", got)
	}
	if !e.HasMoreOlder() {
		t.Fatal("expected older history beyond the first page")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(deltas) == 0 || deltas[0] != DeltaReset {
		t.Fatalf("first delta = %v, want DeltaReset", deltas)
	}
}

func TestOpenAcknowledgesUnread(t *testing.T) {
	backend, broker := newTestBackend()
	ctx := context.Background()

	msg, err := backend.Memory.Append(ctx, "alice", "bob", "hello", "")
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	e := NewEngine("bob", "alice", "", backend, broker)
	defer e.Close()

	if err := e.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}

	// Flipped locally without waiting for the ack.
	entries := e.Snapshot()
	if len(entries) != 1 || !entries[0].Message.Read {
		t.Fatalf("entry not locally marked read: %+v", entries)
	}

	// The fire-and-forget ack reaches the store.
	waitFor(t, "mark-all-read ack", func() bool {
		page, err := backend.Memory.Page(ctx, "alice", "bob", "", "", 10)
		if err != nil {
			return false
		}
		for _, m := range page.Messages {
			if m.ID == msg.ID {
				return m.Read
			}
		}
		return false
	})
}

func TestOpenTwiceReturnsBusy(t *testing.T) {
	backend, broker := newTestBackend()
	e := NewEngine("bob", "alice", "", backend, broker)
	defer e.Close()

	if err := e.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := e.Open(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("second open = %v, want ErrBusy", err)
	}
}

func TestLoadOlderPrependsWithoutReordering(t *testing.T) {
	backend, broker := newTestBackend()
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		if _, err := backend.Memory.Append(ctx, "alice", "bob", fmt.Sprintf("msg-%02d", i), ""); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	e := NewEngine("bob", "alice", "", backend, broker)
	defer e.Close()
	if err := e.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}

	before := confirmedTexts(e.Snapshot())

	if err := e.LoadOlder(ctx); err != nil {
		t.Fatalf("load older: %v", err)
	}

	after := e.Snapshot()
	assertOrdered(t, after)
	if len(after) != 2*DefaultPageSize {
		t.Fatalf("loaded %d entries, want %d", len(after), 2*DefaultPageSize)
	}
	// Previously loaded suffix is untouched.
	texts := confirmedTexts(after)
	if got := strings.Join(texts[len(texts)-len(before):], ","); got != strings.Join(before, ",") {
		t.Fatalf("existing entries changed by prepend:\n got %s\nwant %s", got, strings.Join(before, ","))
	}

	if err := e.LoadOlder(ctx); err != nil {
		t.Fatalf("load older: %v", err)
	}
	if e.HasMoreOlder() {
		t.Fatal("history should be exhausted after loading all 50 messages")
	}

	// Exhausted history makes LoadOlder a no-op.
	if err := e.LoadOlder(ctx); err != nil {
		t.Fatalf("load older on exhausted history: %v", err)
	}
	if got := len(e.Snapshot()); got != 50 {
		t.Fatalf("transcript length = %d, want 50", got)
	}
}

func TestSendReconcilesOptimisticEntry(t *testing.T) {
	backend, broker := newTestBackend()
	ctx := context.Background()

	e := NewEngine("alice", "bob", "", backend, broker)
	defer e.Close()
	if err := e.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := e.Send(ctx, "hello bob"); err != nil {
		t.Fatalf("send: %v", err)
	}

	waitFor(t, "confirmed echo", func() bool {
		entries := e.Snapshot()
		return len(entries) == 1 && !entries[0].Pending
	})

	entries := e.Snapshot()
	if got := entries[0].Message.Text; got != "hello bob" {
		t.Fatalf("confirmed text = %q, want %q", got, "hello bob")
	}
	if strings.HasPrefix(entries[0].Message.ID, PendingIDPrefix) {
		t.Fatalf("confirmed entry kept a pending id: %q", entries[0].Message.ID)
	}
	if !entries[0].Message.Read {
		t.Fatal("own message should be read")
	}
	assertOrdered(t, entries)
}

func TestSendFailureRestoresDraft(t *testing.T) {
	backend, broker := newTestBackend()
	ctx := context.Background()

	failing := &failingStore{Store: backend}
	e := NewEngine("alice", "bob", "", failing, broker)
	defer e.Close()
	if err := e.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}

	failing.fail = true
	err := e.Send(ctx, "doomed message")
	var sendErr *SendFailedError
	if !errors.As(err, &sendErr) {
		t.Fatalf("send error = %v, want *SendFailedError", err)
	}
	if sendErr.Draft != "doomed message" {
		t.Fatalf("draft = %q, want original text", sendErr.Draft)
	}

	// The optimistic entry is rolled back and the session stays usable.
	if got := len(e.Snapshot()); got != 0 {
		t.Fatalf("transcript length after failed send = %d, want 0", got)
	}
	if got := e.State(); got != StateReady {
		t.Fatalf("state after failed send = %v, want %v", got, StateReady)
	}

	failing.fail = false
	if err := e.Send(ctx, sendErr.Draft); err != nil {
		t.Fatalf("retry send: %v", err)
	}
	waitFor(t, "retried send confirmation", func() bool {
		entries := e.Snapshot()
		return len(entries) == 1 && !entries[0].Pending
	})
}

func TestSendRejectsInvalidText(t *testing.T) {
	backend, broker := newTestBackend()
	e := NewEngine("alice", "bob", "", backend, broker)
	defer e.Close()
	if err := e.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := e.Send(context.Background(), "   "); !errors.Is(err, domain.ErrEmptyText) {
		t.Fatalf("send whitespace = %v, want ErrEmptyText", err)
	}
	if err := e.Send(context.Background(), strings.Repeat("x", domain.MaxTextLen+1)); !errors.Is(err, domain.ErrTextTooLong) {
		t.Fatalf("send oversized = %v, want ErrTextTooLong", err)
	}
	if got := len(e.Snapshot()); got != 0 {
		t.Fatalf("rejected sends must not touch the transcript, got %d entries", got)
	}
}

func TestDuplicateDeliveryIsIdempotent(t *testing.T) {
	backend, broker := newTestBackend()
	ctx := context.Background()

	e := NewEngine("bob", "alice", "", backend, broker)
	defer e.Close()
	if err := e.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}

	msg, err := backend.Append(ctx, "alice", "bob", "once only", "")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	// Redeliver the same event.
	if err := broker.Publish(ctx, msg); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, "delivery", func() bool { return len(e.Snapshot()) >= 1 })
	time.Sleep(50 * time.Millisecond)

	if got := len(e.Snapshot()); got != 1 {
		t.Fatalf("transcript length after duplicate delivery = %d, want 1", got)
	}
}

func TestReceiveIgnoresOtherConversations(t *testing.T) {
	backend, broker := newTestBackend()
	ctx := context.Background()

	e := NewEngine("bob", "alice", "", backend, broker)
	defer e.Close()
	if err := e.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}

	// Same identity, different counterparty: carried by the same handle but
	// outside this session.
	if _, err := backend.Append(ctx, "carol", "bob", "different thread", ""); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := backend.Append(ctx, "alice", "bob", "this thread", ""); err != nil {
		t.Fatalf("append: %v", err)
	}

	waitFor(t, "in-conversation delivery", func() bool { return len(e.Snapshot()) == 1 })
	if got := e.Snapshot()[0].Message.Text; got != "this thread" {
		t.Fatalf("received %q, want only the session's own conversation", got)
	}
}

func TestTwoEnginesConverge(t *testing.T) {
	backend, broker := newTestBackend()
	ctx := context.Background()

	alice := NewEngine("alice", "bob", "", backend, broker)
	bob := NewEngine("bob", "alice", "", backend, broker)
	defer alice.Close()
	defer bob.Close()

	if err := alice.Open(ctx); err != nil {
		t.Fatalf("open alice: %v", err)
	}
	if err := bob.Open(ctx); err != nil {
		t.Fatalf("open bob: %v", err)
	}

	lines := []string{"hi bob", "you there?", "ping"}
	for _, line := range lines {
		if err := alice.Send(ctx, line); err != nil {
			t.Fatalf("send %q: %v", line, err)
		}
	}
	if err := bob.Send(ctx, "pong"); err != nil {
		t.Fatalf("send pong: %v", err)
	}

	settled := func(e *Engine) bool {
		entries := e.Snapshot()
		if len(entries) != 4 {
			return false
		}
		for _, en := range entries {
			if en.Pending {
				return false
			}
		}
		return true
	}
	waitFor(t, "alice transcript", func() bool { return settled(alice) })
	waitFor(t, "bob transcript", func() bool { return settled(bob) })

	a, b := alice.Snapshot(), bob.Snapshot()
	assertOrdered(t, a)
	assertOrdered(t, b)
	for i := range a {
		if a[i].Message.ID != b[i].Message.ID {
			t.Fatalf("transcripts diverge at %d: %q vs %q", i, a[i].Message.ID, b[i].Message.ID)
		}
	}

	// Bob received alice's messages, so the store shows them read.
	waitFor(t, "read acks", func() bool {
		page, err := backend.Memory.Page(ctx, "alice", "bob", "", "", 10)
		if err != nil {
			return false
		}
		for _, m := range page.Messages {
			if m.Recipient == "bob" && !m.Read {
				return false
			}
		}
		return true
	})

	// The inbox projection reflects the latest exchange.
	summaries, err := backend.Memory.ListConversations(ctx, "alice")
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	if len(summaries) != 1 || summaries[0].Counterparty != "bob" || summaries[0].LastMessage != "pong" {
		t.Fatalf("inbox = %+v, want bob/pong", summaries)
	}
}

func TestContextScopedConversationsAreSeparate(t *testing.T) {
	backend, broker := newTestBackend()
	ctx := context.Background()

	// Alice holds the unscoped session, bob the context-scoped one; the
	// scoped message fans out to both identities but only the scoped
	// session may surface it.
	plain := NewEngine("alice", "bob", "", backend, broker)
	scoped := NewEngine("bob", "alice", "task-42", backend, broker)
	defer plain.Close()
	defer scoped.Close()

	if err := plain.Open(ctx); err != nil {
		t.Fatalf("open plain: %v", err)
	}
	if err := scoped.Open(ctx); err != nil {
		t.Fatalf("open scoped: %v", err)
	}

	if _, err := backend.Append(ctx, "alice", "bob", "about the task", "task-42"); err != nil {
		t.Fatalf("append: %v", err)
	}

	waitFor(t, "scoped delivery", func() bool { return len(scoped.Snapshot()) == 1 })
	if got := len(plain.Snapshot()); got != 0 {
		t.Fatalf("unscoped session received %d context-scoped messages", got)
	}
}

func TestClosedEngineRejectsOperations(t *testing.T) {
	backend, broker := newTestBackend()
	e := NewEngine("alice", "bob", "", backend, broker)
	if err := e.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := e.Send(context.Background(), "too late"); !errors.Is(err, ErrClosed) {
		t.Fatalf("send after close = %v, want ErrClosed", err)
	}
	if err := e.LoadOlder(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("load older after close = %v, want ErrClosed", err)
	}
	if err := e.Open(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("reopen after close = %v, want ErrClosed", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("double close: %v", err)
	}
}

func TestOpenChannelFailureIsRetryable(t *testing.T) {
	backend, broker := newTestBackend()
	ch := &flakyChannel{EventChannel: broker, fail: true}

	e := NewEngine("alice", "bob", "", backend, ch)
	defer e.Close()

	if err := e.Open(context.Background()); !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("open with dead channel = %v, want ErrUnavailable", err)
	}
	if got := e.State(); got != StateNew {
		t.Fatalf("state after failed connect = %v, want %v", got, StateNew)
	}

	ch.fail = false
	if err := e.Open(context.Background()); err != nil {
		t.Fatalf("retried open: %v", err)
	}
	if got := e.State(); got != StateReady {
		t.Fatalf("state after retried open = %v, want %v", got, StateReady)
	}
}

func TestEchoReplacesPendingAndStaysRead(t *testing.T) {
	backend, broker := newTestBackend()
	ctx := context.Background()

	// Append blocks until released, so the echo is delivered while the send
	// is still in flight and reconciliation goes through the pending entry.
	gated := &gatedStore{Store: backend, release: make(chan struct{})}
	e := NewEngine("alice", "bob", "", gated, broker)
	defer e.Close()

	var mu sync.Mutex
	var deltas []Delta
	e.OnUpdate = func(d Delta) {
		mu.Lock()
		deltas = append(deltas, d)
		mu.Unlock()
	}

	if err := e.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- e.Send(ctx, "hello bob") }()

	waitFor(t, "replace delta", func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, d := range deltas {
			if d.Kind == DeltaReplace {
				return true
			}
		}
		return false
	})
	close(gated.release)
	if err := <-errCh; err != nil {
		t.Fatalf("send: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	var replace *Delta
	for i := range deltas {
		switch deltas[i].Kind {
		case DeltaReplace:
			replace = &deltas[i]
		case DeltaRemove:
			t.Fatal("echo-reconciled send must not also emit a removal")
		}
	}
	if replace == nil || len(replace.Entries) != 1 {
		t.Fatalf("expected one replace delta, got %+v", deltas)
	}
	en := replace.Entries[0]
	if en.Pending {
		t.Fatal("replace delta must carry the confirmed entry")
	}
	if !en.Message.Read {
		t.Fatal("own confirmed message must stay read")
	}
}

func TestForeignEchoInsertsFresh(t *testing.T) {
	backend, broker := newTestBackend()
	ctx := context.Background()

	e := NewEngine("alice", "bob", "", backend, broker)
	defer e.Close()

	var mu sync.Mutex
	var deltas []Delta
	e.OnUpdate = func(d Delta) {
		mu.Lock()
		deltas = append(deltas, d)
		mu.Unlock()
	}

	if err := e.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}

	// Own message with no matching pending entry, as sent from another
	// device: inserted fresh, still read.
	if _, err := backend.Append(ctx, "alice", "bob", "from elsewhere", ""); err != nil {
		t.Fatalf("append: %v", err)
	}

	waitFor(t, "insert delta", func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, d := range deltas {
			if d.Kind == DeltaInsert {
				return true
			}
		}
		return false
	})

	entries := e.Snapshot()
	if len(entries) != 1 || entries[0].Pending {
		t.Fatalf("transcript = %+v, want one confirmed entry", entries)
	}
	if !entries[0].Message.Read {
		t.Fatal("own message delivered without a pending match must be read")
	}
}

type gatedStore struct {
	Store
	release chan struct{}
}

func (s *gatedStore) Append(ctx context.Context, sender, recipient, text, contextID string) (*domain.Message, error) {
	msg, err := s.Store.Append(ctx, sender, recipient, text, contextID)
	<-s.release
	return msg, err
}

type failingStore struct {
	Store
	fail bool
}

func (s *failingStore) Append(ctx context.Context, sender, recipient, text, contextID string) (*domain.Message, error) {
	if s.fail {
		return nil, fmt.Errorf("%w: store down", domain.ErrUnavailable)
	}
	return s.Store.Append(ctx, sender, recipient, text, contextID)
}

type flakyChannel struct {
	channel.EventChannel
	fail bool
}

func (c *flakyChannel) Connect(ctx context.Context, identity string) (channel.Handle, error) {
	if c.fail {
		return nil, fmt.Errorf("broker unreachable")
	}
	return c.EventChannel.Connect(ctx, identity)
}
