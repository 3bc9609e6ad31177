// Package pgstore adapts Postgres (documents as jsonb rows) plus Redis
// pub/sub (write fan-out) to the document store port. Every committed write
// publishes the full document to the kind's channel; subscriptions are
// goroutines pairing a redis subscription with a Go channel.
package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/wwwillott/where-the-hbll-are-you/src/store"
)

const subscriptionBuffer = 64

type PG struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
}

func New(pool *pgxpool.Pool, rdb *redis.Client) *PG {
	return &PG{pool: pool, rdb: rdb}
}

func (p *PG) ServerTimestamp() any { return store.ServerTimestampValue }

func channelFor(kind string) string { return "docs:" + kind }

// changeEvent is the payload published to redis after each committed write.
type changeEvent struct {
	Kind   string         `json:"kind"`
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

func (p *PG) Get(ctx context.Context, kind, id string) (store.Doc, error) {
	var raw []byte
	query := `SELECT fields FROM documents WHERE kind = $1 AND id = $2`
	err := p.pool.QueryRow(ctx, query, kind, id).Scan(&raw)
	if err == pgx.ErrNoRows {
		return store.Doc{}, store.ErrNotFound
	}
	if err != nil {
		return store.Doc{}, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return decodeDoc(id, raw)
}

func (p *PG) Set(ctx context.Context, kind, id string, fields map[string]any) error {
	raw, err := json.Marshal(p.resolveTimestamps(fields))
	if err != nil {
		return err
	}

	query := `INSERT INTO documents (kind, id, fields)
				VALUES ($1, $2, $3)
				ON CONFLICT (kind, id)
				DO UPDATE SET fields = EXCLUDED.fields, updated_at = (now() AT TIME ZONE 'utc'::text)
				RETURNING fields`
	var committed []byte
	if err := p.pool.QueryRow(ctx, query, kind, id, raw).Scan(&committed); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	p.publish(ctx, kind, id, committed)
	return nil
}

func (p *PG) Update(ctx context.Context, kind, id string, ops ...store.Op) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	defer tx.Rollback(ctx)

	var committed []byte
	for _, op := range ops {
		value := op.Value
		if store.IsServerTimestamp(value) {
			value = time.Now().UTC()
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return err
		}

		var expr string
		switch op.Kind {
		case store.OpSet:
			expr = `jsonb_set(fields, ARRAY[$3], $4::jsonb, true)`
		case store.OpAddToSet:
			expr = `jsonb_set(fields, ARRAY[$3],
						CASE WHEN coalesce(fields->$3, '[]'::jsonb) @> $4::jsonb
							THEN coalesce(fields->$3, '[]'::jsonb)
							ELSE coalesce(fields->$3, '[]'::jsonb) || $4::jsonb
						END, true)`
		case store.OpRemoveFromSet:
			expr = `jsonb_set(fields, ARRAY[$3],
						coalesce(fields->$3, '[]'::jsonb) - $4::text, true)`
		}

		query := fmt.Sprintf(`UPDATE documents
					SET fields = %s, updated_at = (now() AT TIME ZONE 'utc'::text)
					WHERE kind = $1 AND id = $2
					RETURNING fields`, expr)

		arg := any(string(raw))
		if op.Kind == store.OpRemoveFromSet {
			// jsonb minus takes the bare element text, not a json literal.
			if s, ok := value.(string); ok {
				arg = s
			}
		}

		err = tx.QueryRow(ctx, query, kind, id, op.Field, arg).Scan(&committed)
		if err == pgx.ErrNoRows {
			return store.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	p.publish(ctx, kind, id, committed)
	return nil
}

func (p *PG) QueryEquals(ctx context.Context, kind, field string, value any) ([]store.Doc, error) {
	query := `SELECT id, fields FROM documents WHERE kind = $1 AND fields->>$2 = $3`
	return p.queryDocs(ctx, query, kind, field, fmt.Sprintf("%v", value))
}

func (p *PG) QueryMembership(ctx context.Context, kind, field string, values []string) ([]store.Doc, error) {
	query := `SELECT id, fields FROM documents WHERE kind = $1 AND fields->>$2 = ANY($3)`
	return p.queryDocs(ctx, query, kind, field, store.CapMembership(values))
}

func (p *PG) List(ctx context.Context, kind string) ([]store.Doc, error) {
	query := `SELECT id, fields FROM documents WHERE kind = $1 ORDER BY id`
	return p.queryDocs(ctx, query, kind)
}

func (p *PG) queryDocs(ctx context.Context, query string, args ...any) ([]store.Doc, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	defer rows.Close()

	var docs []store.Doc
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
		}
		doc, err := decodeDoc(id, raw)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (p *PG) Subscribe(ctx context.Context, kind, id string) (store.Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	sub := &docSub{ch: make(chan store.Doc, subscriptionBuffer), cancel: cancel}

	pubSub := p.rdb.Subscribe(ctx, channelFor(kind))

	if doc, err := p.Get(ctx, kind, id); err == nil {
		sub.ch <- doc
	} else if err != store.ErrNotFound {
		pubSub.Close()
		cancel()
		return nil, err
	}

	go func() {
		defer close(sub.ch)
		defer pubSub.Close()
		messages := pubSub.Channel(redis.WithChannelSize(250))
		for {
			select {
			case message, ok := <-messages:
				if !ok {
					return
				}
				var event changeEvent
				if err := json.Unmarshal([]byte(message.Payload), &event); err != nil {
					logrus.WithError(err).Warn("pgstore: dropping undecodable change event")
					continue
				}
				if event.ID != id {
					continue
				}
				store.SendLatest(sub.ch, store.Doc{ID: event.ID, Fields: event.Fields})
			case <-ctx.Done():
				return
			}
		}
	}()

	return sub, nil
}

func (p *PG) SubscribeMembership(ctx context.Context, kind, field string, values []string) (store.QuerySubscription, error) {
	values = store.CapMembership(values)
	ctx, cancel := context.WithCancel(ctx)
	sub := &querySub{ch: make(chan []store.Doc, subscriptionBuffer), cancel: cancel}

	pubSub := p.rdb.Subscribe(ctx, channelFor(kind))

	docs, err := p.QueryMembership(ctx, kind, field, values)
	if err != nil {
		pubSub.Close()
		cancel()
		return nil, err
	}
	sub.ch <- docs

	member := make(map[string]bool, len(values))
	for _, v := range values {
		member[v] = true
	}

	go func() {
		defer close(sub.ch)
		defer pubSub.Close()
		messages := pubSub.Channel(redis.WithChannelSize(250))
		for {
			select {
			case message, ok := <-messages:
				if !ok {
					return
				}
				var event changeEvent
				if err := json.Unmarshal([]byte(message.Payload), &event); err != nil {
					logrus.WithError(err).Warn("pgstore: dropping undecodable change event")
					continue
				}
				v, _ := event.Fields[field].(string)
				if !member[v] {
					continue
				}
				docs, err := p.QueryMembership(ctx, kind, field, values)
				if err != nil {
					logrus.WithError(err).Warn("pgstore: membership requery failed, stream going stale")
					continue
				}
				store.SendLatest(sub.ch, docs)
			case <-ctx.Done():
				return
			}
		}
	}()

	return sub, nil
}

func (p *PG) publish(ctx context.Context, kind, id string, committed []byte) {
	var fields map[string]any
	if err := json.Unmarshal(committed, &fields); err != nil {
		logrus.WithError(err).Error("pgstore: committed row is not valid json")
		return
	}
	payload, err := json.Marshal(changeEvent{Kind: kind, ID: id, Fields: fields})
	if err != nil {
		logrus.WithError(err).Error("pgstore: encoding change event")
		return
	}
	if err := p.rdb.Publish(ctx, channelFor(kind), payload).Err(); err != nil {
		logrus.WithFields(logrus.Fields{"kind": kind, "id": id}).
			WithError(err).Warn("pgstore: change event not published, subscribers stale until next write")
	}
}

func (p *PG) resolveTimestamps(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	now := time.Now().UTC()
	for k, v := range fields {
		if store.IsServerTimestamp(v) {
			out[k] = now
			continue
		}
		out[k] = v
	}
	return out
}

func decodeDoc(id string, raw []byte) (store.Doc, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return store.Doc{}, fmt.Errorf("document %s: %w", id, err)
	}
	return store.Doc{ID: id, Fields: fields}, nil
}

type docSub struct {
	ch     chan store.Doc
	cancel context.CancelFunc
}

func (s *docSub) Updates() <-chan store.Doc { return s.ch }
func (s *docSub) Close()                    { s.cancel() }

type querySub struct {
	ch     chan []store.Doc
	cancel context.CancelFunc
}

func (s *querySub) Updates() <-chan []store.Doc { return s.ch }
func (s *querySub) Close()                      { s.cancel() }
