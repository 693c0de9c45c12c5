// Package queue consumes a pgmq work queue: durable, at-least-once
// delivery with visibility-timeout leasing, explicit delete on success and
// archive on permanent failure.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pageq/pageq/pkg/schema"
)

// Message is one leased delivery of a page task. ID is the queue-assigned
// message identity used to retire it.
type Message struct {
	ID   int64
	Task schema.PageTask
}

// Queue is the work-queue contract consumed by the producer and the
// bounded worker.
type Queue interface {
	// Send enqueues one page task and returns its message id.
	Send(ctx context.Context, task schema.PageTask) (int64, error)
	// Read leases up to qty messages for the given visibility timeout.
	// It never blocks waiting for messages; an empty queue returns an
	// empty slice.
	Read(ctx context.Context, lease time.Duration, qty int) ([]Message, error)
	// Delete permanently removes a successfully processed message.
	Delete(ctx context.Context, msgID int64) error
	// Archive moves a message out of the queue with no future redelivery,
	// used for unrecoverable per-page failures.
	Archive(ctx context.Context, msgID int64) error
}

// PGMQ talks to one named pgmq queue through the shared pgx pool.
type PGMQ struct {
	pool *pgxpool.Pool
	name string
	log  *slog.Logger
}

func NewPGMQ(pool *pgxpool.Pool, name string, log *slog.Logger) *PGMQ {
	return &PGMQ{pool: pool, name: name, log: log}
}

// Ensure creates the queue if it does not exist. pgmq.create is
// idempotent.
func (q *PGMQ) Ensure(ctx context.Context) error {
	if _, err := q.pool.Exec(ctx, `SELECT pgmq.create($1)`, q.name); err != nil {
		return fmt.Errorf("create queue %s: %w", q.name, err)
	}
	return nil
}

func (q *PGMQ) Send(ctx context.Context, task schema.PageTask) (int64, error) {
	payload, err := json.Marshal(task)
	if err != nil {
		return 0, fmt.Errorf("encode page task: %w", err)
	}
	var msgID int64
	err = q.pool.QueryRow(ctx,
		`SELECT * FROM pgmq.send($1, $2::jsonb)`, q.name, payload).Scan(&msgID)
	if err != nil {
		q.log.Error("queue send failed", "queue", q.name, "job_id", task.JobID, "page", task.PageNumber, "err", err)
		return 0, err
	}
	return msgID, nil
}

func (q *PGMQ) Read(ctx context.Context, lease time.Duration, qty int) ([]Message, error) {
	rows, err := q.pool.Query(ctx,
		`SELECT msg_id, message FROM pgmq.read($1, $2, $3)`,
		q.name, int(lease.Seconds()), qty)
	if err != nil {
		q.log.Error("queue read failed", "queue", q.name, "err", err)
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var (
			m       Message
			payload []byte
		)
		if err := rows.Scan(&m.ID, &payload); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &m.Task); err != nil {
			return nil, fmt.Errorf("decode page task %d: %w", m.ID, err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (q *PGMQ) Delete(ctx context.Context, msgID int64) error {
	var ok bool
	err := q.pool.QueryRow(ctx,
		`SELECT pgmq.delete($1, $2::bigint)`, q.name, msgID).Scan(&ok)
	if err != nil {
		q.log.Error("queue delete failed", "queue", q.name, "msg_id", msgID, "err", err)
		return err
	}
	if !ok {
		// Already gone; a redelivered duplicate was retired elsewhere.
		q.log.Debug("queue delete found no message", "queue", q.name, "msg_id", msgID)
	}
	return nil
}

func (q *PGMQ) Archive(ctx context.Context, msgID int64) error {
	var ok bool
	err := q.pool.QueryRow(ctx,
		`SELECT pgmq.archive($1, $2::bigint)`, q.name, msgID).Scan(&ok)
	if err != nil {
		q.log.Error("queue archive failed", "queue", q.name, "msg_id", msgID, "err", err)
		return err
	}
	if !ok {
		q.log.Debug("queue archive found no message", "queue", q.name, "msg_id", msgID)
	}
	return nil
}
