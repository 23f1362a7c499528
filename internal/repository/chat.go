package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/model"
)

// notifyChannel is the Postgres NOTIFY channel new chat messages are
// announced on.
const notifyChannel = "chat_messages"

// ChatRepository handles persistence for chat channels and messages.
//
// Live streams share one dedicated LISTEN connection, opened outside the
// pool when the first subscriber arrives and closed after the last leaves.
type ChatRepository struct {
	db   *pgxpool.Pool
	subs *fanout

	listenMu sync.Mutex
	stop     context.CancelFunc // non-nil while the listener runs
}

// NewChatRepository constructs a ChatRepository.
func NewChatRepository(db *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{db: db, subs: newFanout()}
}

// ResetChannelIfStale clears the channel and stamps academicYear when the
// stored marker differs from it (or the channel does not exist yet). It
// reports whether this call performed the reset.
//
// The upsert only writes when the marker differs, so a concurrent opener
// that loses the race sees zero rows and skips the clear. Even if both
// cleared, clearing an empty list is harmless.
func (r *ChatRepository) ResetChannelIfStale(ctx context.Context, key, academicYear string) (bool, error) {
	var reset bool
	err := inTx(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`INSERT INTO chat_channels (key, last_reset_academic_year)
			 VALUES ($1, $2)
			 ON CONFLICT (key) DO UPDATE
			     SET last_reset_academic_year = EXCLUDED.last_reset_academic_year
			     WHERE chat_channels.last_reset_academic_year <> EXCLUDED.last_reset_academic_year`,
			key, academicYear,
		)
		if err != nil {
			return fmt.Errorf("stamp channel: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx, `DELETE FROM chat_messages WHERE channel_key = $1`, key); err != nil {
			return fmt.Errorf("clear channel: %w", err)
		}
		reset = true
		return nil
	})
	return reset, err
}

// GetChannel returns the channel marker and its latest limit messages in
// chronological order. A channel that was never opened is returned empty.
func (r *ChatRepository) GetChannel(ctx context.Context, key string, limit int) (*model.ChatChannel, error) {
	ch := &model.ChatChannel{Key: key, Messages: []model.Message{}}
	err := r.db.QueryRow(ctx,
		`SELECT last_reset_academic_year FROM chat_channels WHERE key = $1`,
		key,
	).Scan(&ch.LastResetAcademicYear)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get channel: %w", err)
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, channel_key, text, sender_id, sender_name, sent_at, is_mentor
		 FROM (
		     SELECT * FROM chat_messages
		     WHERE channel_key = $1
		     ORDER BY sent_at DESC, seq DESC
		     LIMIT $2
		 ) latest
		 ORDER BY sent_at ASC, seq ASC`,
		key, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.ChannelKey, &m.Text, &m.SenderID, &m.SenderName, &m.Timestamp, &m.IsMentor); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		ch.Messages = append(ch.Messages, m)
	}
	return ch, rows.Err()
}

type messageNotification struct {
	ChannelKey string `json:"channel_key"`
	ID         string `json:"id"`
}

// AppendMessage stores m and announces it to subscribers once committed.
func (r *ChatRepository) AppendMessage(ctx context.Context, m model.Message) error {
	payload, err := json.Marshal(messageNotification{ChannelKey: m.ChannelKey, ID: m.ID})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	return inTx(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO chat_messages (id, channel_key, text, sender_id, sender_name, is_mentor, sent_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			m.ID, m.ChannelKey, m.Text, m.SenderID, m.SenderName, m.IsMentor, m.Timestamp,
		); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, string(payload)); err != nil {
			return fmt.Errorf("notify message: %w", err)
		}
		return nil
	})
}

func (r *ChatRepository) getMessage(ctx context.Context, id string) (model.Message, error) {
	var m model.Message
	err := r.db.QueryRow(ctx,
		`SELECT id, channel_key, text, sender_id, sender_name, sent_at, is_mentor
		 FROM chat_messages WHERE id = $1`,
		id,
	).Scan(&m.ID, &m.ChannelKey, &m.Text, &m.SenderID, &m.SenderName, &m.Timestamp, &m.IsMentor)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return m, ErrNotFound
		}
		return m, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

// SubscribeChannel streams messages appended to key after the call returns.
// The returned channel is closed when ctx is done or the shared listener
// connection fails; clients are expected to reconnect. A subscriber that
// falls more than a buffer behind misses messages until it reads the
// channel again.
func (r *ChatRepository) SubscribeChannel(ctx context.Context, key string) (<-chan model.Message, error) {
	r.listenMu.Lock()
	defer r.listenMu.Unlock()
	if r.stop == nil {
		if err := r.startListener(ctx); err != nil {
			return nil, err
		}
	}
	ch := r.subs.add(key)

	go func() {
		<-ctx.Done()
		r.listenMu.Lock()
		defer r.listenMu.Unlock()
		if r.subs.remove(key, ch) == 0 && r.stop != nil {
			r.stop()
			r.stop = nil
		}
	}()
	return ch, nil
}

// startListener opens the LISTEN connection. listenMu must be held.
func (r *ChatRepository) startListener(ctx context.Context) error {
	conn, err := pgx.ConnectConfig(ctx, r.db.Config().ConnConfig)
	if err != nil {
		return fmt.Errorf("connect listener: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		_ = conn.Close(context.Background())
		return fmt.Errorf("listen: %w", err)
	}
	lctx, stop := context.WithCancel(context.Background())
	r.stop = stop
	go r.listen(lctx, conn)
	return nil
}

func (r *ChatRepository) listen(ctx context.Context, conn *pgx.Conn) {
	defer func() { _ = conn.Close(context.Background()) }()
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			r.listenMu.Lock()
			if ctx.Err() == nil {
				// The connection broke under live subscribers.
				r.subs.closeAll()
				r.stop()
				r.stop = nil
			}
			r.listenMu.Unlock()
			return
		}
		var note messageNotification
		if err := json.Unmarshal([]byte(n.Payload), &note); err != nil || !r.subs.wants(note.ChannelKey) {
			continue
		}
		m, err := r.getMessage(ctx, note.ID)
		if err != nil {
			// Cleared by a reset between commit and fetch.
			continue
		}
		r.subs.publish(m)
	}
}
