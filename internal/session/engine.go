// Package session implements the per-view orchestration for one open direct
// message conversation: optimistic sends, confirmed-echo reconciliation,
// backward pagination, and read-state synchronization over a message store
// and a live event channel.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskhive/messaging/internal/channel"
	"github.com/taskhive/messaging/internal/domain"
	"github.com/taskhive/messaging/internal/store"
	"github.com/taskhive/messaging/pkg/log"
)

const (
	// DefaultPageSize is the transcript page size used by Open and LoadOlder.
	DefaultPageSize = 20

	// PendingIDPrefix namespaces local ids of unconfirmed sends. The store
	// never assigns ids in this namespace, so pending and confirmed entries
	// cannot collide.
	PendingIDPrefix = "pending-"

	// ackTimeout bounds fire-and-forget read acknowledgements.
	ackTimeout = 5 * time.Second
)

// Store is the slice of the message store contract the engine consumes.
type Store interface {
	Append(ctx context.Context, sender, recipient, text, contextID string) (*domain.Message, error)
	Page(ctx context.Context, identityA, identityB, contextID, cursor string, limit int) (*store.Page, error)
	MarkRead(ctx context.Context, messageID, forIdentity string) error
	MarkAllRead(ctx context.Context, counterparty, forIdentity, contextID string) error
}

// Entry is one transcript element: either a store-confirmed message or a
// locally created send awaiting confirmation.
type Entry struct {
	Message domain.Message
	Pending bool

	// seq orders pending entries among themselves.
	seq uint64
}

// DeltaKind classifies a transcript mutation for the presentation layer.
// Scroll-anchor maintenance belongs to the caller: DeltaPrepend never
// reorders or duplicates what was already loaded, everything else lands at
// or after the previously visible region.
type DeltaKind int

const (
	DeltaReset DeltaKind = iota
	DeltaPrepend
	DeltaInsert
	DeltaReplace
	DeltaRemove
)

// Delta describes one transcript mutation.
type Delta struct {
	Kind    DeltaKind
	Entries []Entry
}

// SendFailedError reports a failed Send. Draft carries the original text so
// the caller can restore it into the compose field; drafted text must not be
// lost on transient failure.
type SendFailedError struct {
	Draft string
	Err   error
}

func (e *SendFailedError) Error() string {
	return fmt.Sprintf("send failed: %v", e.Err)
}

func (e *SendFailedError) Unwrap() error { return e.Err }

// Engine drives one open conversation view. Open, LoadOlder, and Send are
// serialized by the state guard (a second call while one is in flight
// returns ErrBusy); receive runs on its own goroutine and only contends for
// the transcript mutex, so channel delivery is never blocked by an
// outstanding request.
type Engine struct {
	// PageSize may be adjusted before Open.
	PageSize int

	// OnUpdate, when set before Open, is invoked after every transcript
	// mutation, outside the engine lock. The callback must not call back
	// into the engine synchronously.
	OnUpdate func(Delta)

	self         string
	counterparty string
	contextID    string
	conversation string

	store   Store
	channel channel.EventChannel

	mu           sync.Mutex
	state        State
	transcript   []Entry
	hasMoreOlder bool
	pendingSeq   uint64
	handle       channel.Handle
	now          func() time.Time
}

// NewEngine creates an engine for the conversation between self and
// counterparty, optionally scoped to a context entity.
func NewEngine(self, counterparty, contextID string, st Store, ch channel.EventChannel) *Engine {
	return &Engine{
		PageSize:     DefaultPageSize,
		self:         self,
		counterparty: counterparty,
		contextID:    contextID,
		conversation: domain.ConversationKey(self, counterparty, contextID),
		store:        st,
		channel:      ch,
		state:        StateNew,
		now:          time.Now,
	}
}

// Open connects the event channel, loads the newest transcript page, and
// acknowledges any unread messages in it. A failed initial page load leaves
// the session Ready with an empty transcript; a failed channel connect
// leaves the engine unopened so Open can be retried.
func (e *Engine) Open(ctx context.Context) error {
	e.mu.Lock()
	if e.state == StateClosed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.state != StateNew {
		e.mu.Unlock()
		return ErrBusy
	}
	e.state = StateLoading
	e.mu.Unlock()

	handle, err := e.channel.Connect(ctx, e.self)
	if err != nil {
		e.mu.Lock()
		e.state = StateNew
		e.mu.Unlock()
		return fmt.Errorf("%w: connect event channel: %v", domain.ErrUnavailable, err)
	}

	page, pageErr := e.store.Page(ctx, e.self, e.counterparty, e.contextID, "", e.PageSize)

	e.mu.Lock()
	if e.state == StateClosed {
		e.mu.Unlock()
		handle.Close()
		return ErrClosed
	}
	e.handle = handle
	e.state = StateReady

	if pageErr != nil {
		e.mu.Unlock()
		go e.receiveLoop(handle)
		return fmt.Errorf("%w: load transcript: %v", domain.ErrUnavailable, pageErr)
	}

	var unread int
	e.transcript = make([]Entry, 0, len(page.Messages))
	for _, m := range page.Messages {
		entry := Entry{Message: m}
		if m.Recipient == e.self && !m.Read {
			// Flip locally without waiting for the ack round trip.
			entry.Message.Read = true
			unread++
		}
		e.transcript = append(e.transcript, entry)
	}
	e.hasMoreOlder = page.HasMore
	loaded := e.snapshotLocked()
	e.mu.Unlock()

	go e.receiveLoop(handle)
	if unread > 0 {
		go e.ackAllRead()
	}
	e.emit(Delta{Kind: DeltaReset, Entries: loaded})
	return nil
}

// LoadOlder prepends the next older page. A no-op when history is
// exhausted; ErrBusy while another Open/LoadOlder/Send is in flight. On
// failure the transcript is left exactly as it was.
func (e *Engine) LoadOlder(ctx context.Context) error {
	e.mu.Lock()
	if e.state == StateClosed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.state != StateReady {
		e.mu.Unlock()
		return ErrBusy
	}
	if !e.hasMoreOlder {
		e.mu.Unlock()
		return nil
	}

	// Cursor is the oldest confirmed message; pending entries always sit
	// behind every confirmed one.
	var cursor string
	for _, en := range e.transcript {
		if !en.Pending {
			cursor = en.Message.ID
			break
		}
	}
	e.state = StateLoadingOlder
	e.mu.Unlock()

	page, err := e.store.Page(ctx, e.self, e.counterparty, e.contextID, cursor, e.PageSize)

	e.mu.Lock()
	if e.state == StateClosed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.state = StateReady
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: load older messages: %v", domain.ErrUnavailable, err)
	}

	seen := make(map[string]struct{}, len(e.transcript))
	for _, en := range e.transcript {
		if !en.Pending {
			seen[en.Message.ID] = struct{}{}
		}
	}
	var fresh []Entry
	for _, m := range page.Messages {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		fresh = append(fresh, Entry{Message: m})
	}
	e.transcript = append(fresh, e.transcript...)
	e.hasMoreOlder = page.HasMore
	e.mu.Unlock()

	if len(fresh) > 0 {
		e.emit(Delta{Kind: DeltaPrepend, Entries: fresh})
	}
	return nil
}

// Send appends an optimistic pending entry, persists the message, and then
// removes the pending entry: the store's confirmed copy is inserted by the
// channel echo through the receive path, keeping a single insertion code
// path. On failure the pending entry is rolled back and the draft returned
// inside *SendFailedError.
func (e *Engine) Send(ctx context.Context, text string) error {
	if err := domain.ValidateText(text); err != nil {
		return err
	}

	e.mu.Lock()
	if e.state == StateClosed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.state != StateReady {
		e.mu.Unlock()
		return ErrBusy
	}
	e.state = StateSending
	e.pendingSeq++
	pending := Entry{
		Pending: true,
		seq:     e.pendingSeq,
		Message: domain.Message{
			ID:              PendingIDPrefix + uuid.New().String(),
			ConversationKey: e.conversation,
			Sender:          e.self,
			Recipient:       e.counterparty,
			Text:            text,
			Read:            true, // a sender's own message
			ContextID:       e.contextID,
			CreatedAt:       e.now(),
		},
	}
	e.transcript = append(e.transcript, pending)
	e.mu.Unlock()
	e.emit(Delta{Kind: DeltaInsert, Entries: []Entry{pending}})

	_, err := e.store.Append(ctx, e.self, e.counterparty, text, e.contextID)

	e.mu.Lock()
	if e.state == StateSending {
		e.state = StateReady
	}
	removed := e.removePendingLocked(pending.Message.ID)
	e.mu.Unlock()

	if removed {
		e.emit(Delta{Kind: DeltaRemove, Entries: []Entry{pending}})
	}
	if err != nil {
		return &SendFailedError{Draft: text, Err: err}
	}
	return nil
}

// Close detaches the event channel handle. The store stays authoritative;
// no server-side state is mutated.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.state == StateClosed {
		e.mu.Unlock()
		return nil
	}
	e.state = StateClosed
	h := e.handle
	e.handle = nil
	e.mu.Unlock()

	if h != nil {
		return h.Close()
	}
	return nil
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// HasMoreOlder reports whether older history remains beyond the loaded
// transcript.
func (e *Engine) HasMoreOlder() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasMoreOlder
}

// Snapshot returns a copy of the transcript, oldest first.
func (e *Engine) Snapshot() []Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() []Entry {
	out := make([]Entry, len(e.transcript))
	copy(out, e.transcript)
	return out
}

func (e *Engine) receiveLoop(h channel.Handle) {
	for msg := range h.Events() {
		e.receive(msg)
	}
}

// receive applies one messageCreated event: dedup by store id, reconcile the
// sender's own echo against the oldest matching pending entry, otherwise
// insert in authoritative order, and acknowledge freshly received unread
// messages.
func (e *Engine) receive(msg *domain.Message) {
	// The handle carries every conversation of this identity; the session
	// only owns one.
	if msg.ConversationKey != e.conversation {
		return
	}

	e.mu.Lock()
	if e.state == StateClosed {
		e.mu.Unlock()
		return
	}

	for _, en := range e.transcript {
		if !en.Pending && en.Message.ID == msg.ID {
			// Idempotent delivery: the channel may redeliver.
			e.mu.Unlock()
			return
		}
	}

	entry := Entry{Message: *msg}
	ack := msg.Recipient == e.self && !msg.Read
	if ack {
		entry.Message.Read = true
	}

	kind := DeltaInsert
	if msg.Sender == e.self {
		// One's own message is implicitly read; the store echo carries the
		// recipient's flag, which must not revert the pending entry's.
		entry.Message.Read = true
		// Pending entries hold seq order, so the first text match is the
		// oldest.
		for i, en := range e.transcript {
			if en.Pending && en.Message.Text == msg.Text {
				e.transcript = append(e.transcript[:i], e.transcript[i+1:]...)
				kind = DeltaReplace
				break
			}
		}
	}
	e.insertOrderedLocked(entry)
	e.mu.Unlock()

	if ack {
		go e.ackRead(msg.ID)
	}
	e.emit(Delta{Kind: kind, Entries: []Entry{entry}})
}

// insertOrderedLocked places a confirmed entry by the authoritative
// ordering; confirmed entries always precede pending ones.
func (e *Engine) insertOrderedLocked(entry Entry) {
	i := 0
	for ; i < len(e.transcript); i++ {
		cur := &e.transcript[i]
		if cur.Pending {
			break
		}
		if !cur.Message.Before(&entry.Message) {
			break
		}
	}
	e.transcript = append(e.transcript, Entry{})
	copy(e.transcript[i+1:], e.transcript[i:])
	e.transcript[i] = entry
}

func (e *Engine) removePendingLocked(pendingID string) bool {
	for i, en := range e.transcript {
		if en.Pending && en.Message.ID == pendingID {
			e.transcript = append(e.transcript[:i], e.transcript[i+1:]...)
			return true
		}
	}
	return false
}

// ackAllRead and ackRead are fire-and-forget: a failed read ack never
// surfaces to the caller or destabilizes the transcript.
func (e *Engine) ackAllRead() {
	ctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
	defer cancel()
	if err := e.store.MarkAllRead(ctx, e.counterparty, e.self, e.contextID); err != nil {
		l := log.L()
		l.Warn().Err(err).Str(log.FieldConversationKey, e.conversation).Msg("mark-all-read ack failed")
	}
}

func (e *Engine) ackRead(messageID string) {
	ctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
	defer cancel()
	if err := e.store.MarkRead(ctx, messageID, e.self); err != nil {
		l := log.L()
		l.Warn().Err(err).Str(log.FieldMessageID, messageID).Msg("mark-read ack failed")
	}
}

func (e *Engine) emit(d Delta) {
	if e.OnUpdate != nil {
		e.OnUpdate(d)
	}
}
