package internal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
)

// riverPublisher delivers messages as jobs on a River queue, giving the
// analysis side a durable, retried consumer without a broker.
type riverPublisher struct {
	pool   *pgxpool.Pool
	client *river.Client[pgx.Tx]
	cfg    RiverConfig
}

// dispatchArgs is the job payload. The topic travels with the message so one
// job kind can serve every outbound destination.
type dispatchArgs struct {
	Topic    string            `json:"topic"`
	Payload  json.RawMessage   `json:"payload"`
	Metadata map[string]string `json:"metadata,omitempty"`

	kind string
}

func (a dispatchArgs) Kind() string { return a.kind }

// newRiverPublisher creates an insert-only River client.
func newRiverPublisher(cfg RiverConfig) (*riverPublisher, error) {
	if cfg.DSN == "" {
		return nil, errors.New("river dsn is required")
	}
	pool, err := pgxpool.New(context.Background(), cfg.DSN)
	if err != nil {
		return nil, err
	}
	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{})
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &riverPublisher{pool: pool, client: client, cfg: cfg}, nil
}

// Publish inserts one job carrying the payload and topic.
func (p *riverPublisher) Publish(ctx context.Context, topic string, payload interface{}, metadata map[string]string) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	args := dispatchArgs{
		Topic:    topic,
		Payload:  raw,
		Metadata: metadata,
		kind:     p.cfg.Kind,
	}
	_, err = p.client.Insert(ctx, args, &river.InsertOpts{
		Queue:       p.cfg.Queue,
		MaxAttempts: p.cfg.MaxAttempts,
		Priority:    p.cfg.Priority,
		Tags:        p.cfg.Tags,
	})
	if err != nil {
		IncPublishError("river")
	}
	return err
}

// Close releases the connection pool.
func (p *riverPublisher) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}
