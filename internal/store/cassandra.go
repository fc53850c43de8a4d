package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/gocql/gocql"

	"github.com/taskhive/messaging/internal/config"
	"github.com/taskhive/messaging/internal/domain"
)

// markAllReadScan bounds the unread backfill of MarkAllRead to the most
// recent slice of a conversation partition.
const markAllReadScan = 500

// Cassandra is the production MessageStore.
//
// Schema:
//
//	CREATE TABLE messages_by_conversation (
//	    conversation_key text,
//	    id timeuuid,
//	    sender_id text,
//	    recipient_id text,
//	    context_id text,
//	    text text,
//	    read boolean,
//	    created_at timestamp,
//	    PRIMARY KEY ((conversation_key), id)
//	) WITH CLUSTERING ORDER BY (id DESC);
//
//	CREATE TABLE conversations_by_identity (
//	    identity text,
//	    counterparty text,
//	    context_id text,
//	    last_text text,
//	    last_sender text,
//	    last_at timestamp,
//	    PRIMARY KEY ((identity), counterparty, context_id)
//	);
//
//	CREATE TABLE messages_by_id (
//	    id timeuuid PRIMARY KEY,
//	    conversation_key text,
//	    recipient_id text
//	);
//
// The timeuuid id doubles as the pagination cursor: ascending id order
// encodes creation order, which gives the authoritative (created-at, id)
// ordering with a single clustering column.
type Cassandra struct {
	session *gocql.Session
}

// NewCassandra connects to the cluster and returns a Cassandra store.
func NewCassandra(cfg config.CassandraConfig) (*Cassandra, error) {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Keyspace = cfg.Keyspace
	cluster.ConnectTimeout = cfg.ConnectTimeout
	cluster.Timeout = cfg.Timeout

	switch cfg.Consistency {
	case "LOCAL_ONE":
		cluster.Consistency = gocql.LocalOne
	case "LOCAL_QUORUM":
		cluster.Consistency = gocql.LocalQuorum
	case "ONE":
		cluster.Consistency = gocql.One
	case "QUORUM":
		cluster.Consistency = gocql.Quorum
	default:
		cluster.Consistency = gocql.LocalQuorum
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create cassandra session: %w", err)
	}

	return &Cassandra{session: session}, nil
}

func (s *Cassandra) Append(ctx context.Context, sender, recipient, text, contextID string) (*domain.Message, error) {
	if err := domain.ValidateText(text); err != nil {
		return nil, err
	}
	if sender == recipient {
		return nil, domain.ErrSelfMessage
	}

	msg := &domain.Message{
		ID:              gocql.TimeUUID().String(),
		ConversationKey: domain.ConversationKey(sender, recipient, contextID),
		Sender:          sender,
		Recipient:       recipient,
		Text:            text,
		ContextID:       contextID,
		CreatedAt:       time.Now().UTC(),
	}

	batch := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(
		`INSERT INTO messages_by_conversation
		 (conversation_key, id, sender_id, recipient_id, context_id, text, read, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, false, ?)`,
		msg.ConversationKey, msg.ID, msg.Sender, msg.Recipient, msg.ContextID, msg.Text, msg.CreatedAt,
	)
	// Denormalized inbox rows, one per participant.
	batch.Query(
		`INSERT INTO conversations_by_identity (identity, counterparty, context_id, last_text, last_sender, last_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.Sender, msg.Recipient, msg.ContextID, msg.Text, msg.Sender, msg.CreatedAt,
	)
	batch.Query(
		`INSERT INTO conversations_by_identity (identity, counterparty, context_id, last_text, last_sender, last_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.Recipient, msg.Sender, msg.ContextID, msg.Text, msg.Sender, msg.CreatedAt,
	)
	// Lookup row so read acks, which arrive keyed by id alone, stay
	// partition-local.
	batch.Query(
		`INSERT INTO messages_by_id (id, conversation_key, recipient_id) VALUES (?, ?, ?)`,
		msg.ID, msg.ConversationKey, msg.Recipient,
	)

	if err := s.session.ExecuteBatch(batch); err != nil {
		return nil, fmt.Errorf("%w: failed to append message: %v", domain.ErrUnavailable, err)
	}
	return msg, nil
}

func (s *Cassandra) Page(ctx context.Context, identityA, identityB, contextID, cursor string, limit int) (*Page, error) {
	if limit <= 0 {
		limit = 20
	}
	key := domain.ConversationKey(identityA, identityB, contextID)

	// Query limit+1 newest-first to detect whether older messages remain.
	queryLimit := limit + 1

	var iter *gocql.Iter
	if cursor == "" {
		iter = s.session.Query(
			`SELECT id, sender_id, recipient_id, context_id, text, read, created_at
			 FROM messages_by_conversation
			 WHERE conversation_key = ?
			 ORDER BY id DESC
			 LIMIT ?`,
			key, queryLimit,
		).WithContext(ctx).Iter()
	} else {
		cursorID, err := gocql.ParseUUID(cursor)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed cursor", domain.ErrValidation)
		}
		iter = s.session.Query(
			`SELECT id, sender_id, recipient_id, context_id, text, read, created_at
			 FROM messages_by_conversation
			 WHERE conversation_key = ? AND id < ?
			 ORDER BY id DESC
			 LIMIT ?`,
			key, cursorID, queryLimit,
		).WithContext(ctx).Iter()
	}

	messages, err := scanMessages(iter, key)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to page messages: %v", domain.ErrUnavailable, err)
	}

	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}

	// Rows arrive newest-first; the page contract is ascending.
	sort.Slice(messages, func(i, j int) bool { return messages[i].Before(&messages[j]) })

	return &Page{Messages: messages, HasMore: hasMore}, nil
}

func (s *Cassandra) MarkRead(ctx context.Context, messageID, forIdentity string) error {
	id, err := gocql.ParseUUID(messageID)
	if err != nil {
		return fmt.Errorf("%w: malformed message id", domain.ErrValidation)
	}

	// The read flag lives in the conversation partition; the lookup table
	// resolves the partition key for the id-only ack.
	var key, recipient string
	err = s.session.Query(
		`SELECT conversation_key, recipient_id FROM messages_by_id WHERE id = ?`,
		id,
	).WithContext(ctx).Scan(&key, &recipient)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("%w: failed to locate message: %v", domain.ErrUnavailable, err)
	}

	// Only the recipient may ack; the update itself is idempotent.
	if recipient != forIdentity {
		return nil
	}

	if err := s.session.Query(
		`UPDATE messages_by_conversation SET read = true WHERE conversation_key = ? AND id = ?`,
		key, id,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("%w: failed to mark read: %v", domain.ErrUnavailable, err)
	}
	return nil
}

func (s *Cassandra) MarkAllRead(ctx context.Context, counterparty, forIdentity, contextID string) error {
	key := domain.ConversationKey(counterparty, forIdentity, contextID)

	iter := s.session.Query(
		`SELECT id, recipient_id, read
		 FROM messages_by_conversation
		 WHERE conversation_key = ?
		 ORDER BY id DESC
		 LIMIT ?`,
		key, markAllReadScan,
	).WithContext(ctx).Iter()

	var (
		unread    []gocql.UUID
		id        gocql.UUID
		recipient string
		read      bool
	)
	for iter.Scan(&id, &recipient, &read) {
		if recipient == forIdentity && !read {
			unread = append(unread, id)
		}
	}
	if err := iter.Close(); err != nil {
		return fmt.Errorf("%w: failed to scan unread messages: %v", domain.ErrUnavailable, err)
	}
	if len(unread) == 0 {
		return nil
	}

	batch := s.session.NewBatch(gocql.UnloggedBatch).WithContext(ctx)
	for _, u := range unread {
		batch.Query(
			`UPDATE messages_by_conversation SET read = true WHERE conversation_key = ? AND id = ?`,
			key, u,
		)
	}
	if err := s.session.ExecuteBatch(batch); err != nil {
		return fmt.Errorf("%w: failed to mark all read: %v", domain.ErrUnavailable, err)
	}
	return nil
}

func (s *Cassandra) ListConversations(ctx context.Context, identity string) ([]domain.ConversationSummary, error) {
	iter := s.session.Query(
		`SELECT counterparty, context_id, last_text, last_sender, last_at
		 FROM conversations_by_identity
		 WHERE identity = ?`,
		identity,
	).WithContext(ctx).Iter()

	var (
		summaries []domain.ConversationSummary
		s1        domain.ConversationSummary
	)
	for iter.Scan(&s1.Counterparty, &s1.ContextID, &s1.LastMessage, &s1.LastSender, &s1.LastMessageAt) {
		summaries = append(summaries, s1)
		s1 = domain.ConversationSummary{}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("%w: failed to list conversations: %v", domain.ErrUnavailable, err)
	}

	// The partition clusters by counterparty, not recency; inbox lists are
	// small enough to order here.
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].LastMessageAt.After(summaries[j].LastMessageAt)
	})
	return summaries, nil
}

func (s *Cassandra) Close() error {
	s.session.Close()
	return nil
}

func scanMessages(iter *gocql.Iter, conversationKey string) ([]domain.Message, error) {
	var (
		messages []domain.Message
		msg      domain.Message
		id       gocql.UUID
	)
	for iter.Scan(&id, &msg.Sender, &msg.Recipient, &msg.ContextID, &msg.Text, &msg.Read, &msg.CreatedAt) {
		msg.ID = id.String()
		msg.ConversationKey = conversationKey
		messages = append(messages, msg)
		msg = domain.Message{}
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return messages, nil
}
