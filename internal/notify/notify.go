// Package notify delivers in-app notifications for document workflow events.
// Publishing enqueues an asynq task; the worker fans the payload out to one
// notification row per target user.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	// QueueDefault is the queue notifications are dispatched on.
	QueueDefault = "default"
	// TaskTypeDispatch is the asynq task type for notification fan-out.
	TaskTypeDispatch = "notify:dispatch"
	// EventLowStock flags a replenishment digest raised by the nightly sweep.
	EventLowStock = "LOW_STOCK"
)

// Notification describes one workflow event to deliver.
type Notification struct {
	EventType     string  `json:"event_type"`
	Title         string  `json:"title"`
	Message       string  `json:"message"`
	URL           string  `json:"url"`
	TargetUserIDs []int64 `json:"target_user_ids"`
}

// Publisher sends notifications. Implementations must tolerate being called
// after the surrounding transaction committed; delivery is best-effort.
type Publisher interface {
	Publish(ctx context.Context, n Notification) error
}

// NewDispatchTask constructs the asynq task for a notification.
func NewDispatchTask(n Notification) (*asynq.Task, error) {
	if n.EventType == "" {
		return nil, errors.New("notify: event type required")
	}
	body, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeDispatch, body, asynq.Queue(QueueDefault)), nil
}

// AsynqPublisher enqueues notifications onto the worker queue.
type AsynqPublisher struct {
	client *asynq.Client
	logger *slog.Logger
}

// NewAsynqPublisher constructs AsynqPublisher.
func NewAsynqPublisher(client *asynq.Client, logger *slog.Logger) *AsynqPublisher {
	return &AsynqPublisher{client: client, logger: logger}
}

// Publish enqueues the notification. Events without targets are dropped.
func (p *AsynqPublisher) Publish(ctx context.Context, n Notification) error {
	if p == nil || p.client == nil {
		return errors.New("notify: publisher not configured")
	}
	if len(n.TargetUserIDs) == 0 {
		return nil
	}
	task, err := NewDispatchTask(n)
	if err != nil {
		return err
	}
	if _, err := p.client.EnqueueContext(ctx, task); err != nil {
		if p.logger != nil {
			p.logger.Error("enqueue notification", slog.String("event", n.EventType), slog.Any("error", err))
		}
		return err
	}
	return nil
}

// Dispatcher is the worker-side handler persisting notification rows.
type Dispatcher struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewDispatcher constructs Dispatcher.
func NewDispatcher(pool *pgxpool.Pool, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{pool: pool, logger: logger}
}

// HandleDispatch processes TaskTypeDispatch tasks.
func (d *Dispatcher) HandleDispatch(ctx context.Context, t *asynq.Task) error {
	var n Notification
	if err := json.Unmarshal(t.Payload(), &n); err != nil {
		return asynq.SkipRetry
	}
	now := time.Now().UTC()
	for _, userID := range n.TargetUserIDs {
		_, err := d.pool.Exec(ctx, `INSERT INTO notifications (user_id, event_type, title, message, url, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`, userID, n.EventType, n.Title, n.Message, n.URL, now)
		if err != nil {
			d.logger.Error("persist notification", slog.Int64("user_id", userID), slog.Any("error", err))
			return err
		}
	}
	return nil
}

// ListInput filters a user's notification feed.
type ListInput struct {
	UserID     int64
	UnreadOnly bool
	Limit      int
}

// Item is one stored notification.
type Item struct {
	ID        int64      `json:"id"`
	EventType string     `json:"event_type"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	URL       string     `json:"url"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Store reads and updates the persisted feed.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// List returns the newest notifications for one user.
func (s *Store) List(ctx context.Context, input ListInput) ([]Item, error) {
	if input.Limit <= 0 || input.Limit > 200 {
		input.Limit = 50
	}
	query := `SELECT id, event_type, title, message, url, read_at, created_at
FROM notifications WHERE user_id = $1`
	if input.UnreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY created_at DESC LIMIT $2`
	rows, err := s.pool.Query(ctx, query, input.UserID, input.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.EventType, &item.Title, &item.Message, &item.URL, &item.ReadAt, &item.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// MarkRead stamps one notification as read for its owner.
func (s *Store) MarkRead(ctx context.Context, userID, id int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE notifications SET read_at = NOW() WHERE id = $1 AND user_id = $2 AND read_at IS NULL`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("notify: notification not found or already read")
	}
	return nil
}
