package store

import (
	"context"
	"errors"
)

// MembershipLimit is the cardinality cap on membership queries. Callers with
// more values than this only get results for the first MembershipLimit of
// them; the excess is silently dropped. Documented scaling limit, not a bug.
const MembershipLimit = 30

var (
	ErrNotFound    = errors.New("document not found")
	ErrUnavailable = errors.New("store unavailable")
)

// Doc is one stored document: an id plus a flat field map.
type Doc struct {
	ID     string
	Fields map[string]any
}

// Store is the document store port the engine is written against. Documents
// live in named collections ("kinds"); subscriptions emit the current state
// immediately and then once per committed write, in commit order.
type Store interface {
	Get(ctx context.Context, kind, id string) (Doc, error)
	Set(ctx context.Context, kind, id string, fields map[string]any) error
	Update(ctx context.Context, kind, id string, ops ...Op) error
	QueryEquals(ctx context.Context, kind, field string, value any) ([]Doc, error)
	QueryMembership(ctx context.Context, kind, field string, values []string) ([]Doc, error)
	List(ctx context.Context, kind string) ([]Doc, error)
	Subscribe(ctx context.Context, kind, id string) (Subscription, error)
	SubscribeMembership(ctx context.Context, kind, field string, values []string) (QuerySubscription, error)
	ServerTimestamp() any
}

// Subscription is a live stream over a single document. Updates is closed
// after Close is called; Close is safe to call more than once.
type Subscription interface {
	Updates() <-chan Doc
	Close()
}

// QuerySubscription is a live stream over a membership query's result set.
type QuerySubscription interface {
	Updates() <-chan []Doc
	Close()
}

// OpKind selects one of the three partial-update operations.
type OpKind int

const (
	OpSet OpKind = iota
	OpAddToSet
	OpRemoveFromSet
)

// Op is one field mutation inside an Update call. AddToSet and RemoveFromSet
// carry set semantics: adding a present value or removing an absent one is a
// no-op, never an error.
type Op struct {
	Kind  OpKind
	Field string
	Value any
}

func SetField(field string, value any) Op {
	return Op{Kind: OpSet, Field: field, Value: value}
}

func AddToSet(field string, value any) Op {
	return Op{Kind: OpAddToSet, Field: field, Value: value}
}

func RemoveFromSet(field string, value any) Op {
	return Op{Kind: OpRemoveFromSet, Field: field, Value: value}
}

type serverTimestamp struct{}

// ServerTimestampValue is the sentinel adapters replace with the store's own
// commit-time UTC instant. Returned by Store.ServerTimestamp.
var ServerTimestampValue any = serverTimestamp{}

// IsServerTimestamp reports whether v is the commit-time sentinel.
func IsServerTimestamp(v any) bool {
	_, ok := v.(serverTimestamp)
	return ok
}

// CapMembership truncates values to the membership-query limit.
func CapMembership(values []string) []string {
	if len(values) > MembershipLimit {
		return values[:MembershipLimit]
	}
	return values
}

// SendLatest delivers v on ch without blocking: when the buffer is full the
// oldest buffered value is evicted first. A subscriber that fell behind
// catches up on the newest state instead of hitting a silent gap.
func SendLatest[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
