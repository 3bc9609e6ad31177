// Package engine is the presence and social-graph synchronization core. It
// owns the user's presence record, the mutual friend-request protocol, the
// cascading roster subscription, and the mutual-friend suggestion ranking.
// Everything goes through the store port; the engine holds no storage of its
// own.
package engine

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wwwillott/where-the-hbll-are-you/src/store"
)

// UsersKind is the collection holding one document per identity.
const UsersKind = "users"

// StaleAfter is the presence validity window: isInLibrary=true older than
// this is corrected to false the next time the owner loads their record.
const StaleAfter = 4 * time.Hour

// DefaultSuggestionSettle is how long suggestion recomputation waits after a
// graph change before reading. Friend mutations are two non-atomic writes;
// recomputing immediately after a removal can observe one side only and
// count a phantom mutual friend. The delay trades latency for correctness
// against that specific race.
const DefaultSuggestionSettle = 400 * time.Millisecond

type Engine struct {
	store  store.Store
	settle time.Duration
	now    func() time.Time
	log    *logrus.Entry
}

type Option func(*Engine)

// WithSuggestionSettle overrides the suggestion stabilization delay.
func WithSuggestionSettle(d time.Duration) Option {
	return func(e *Engine) { e.settle = d }
}

// WithClock overrides the staleness clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(log *logrus.Entry) Option {
	return func(e *Engine) { e.log = log }
}

func New(st store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  st,
		settle: DefaultSuggestionSettle,
		now:    func() time.Time { return time.Now().UTC() },
		log:    logrus.WithField("component", "engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) newSettleTimer(fn func()) *time.Timer {
	return time.AfterFunc(e.settle, fn)
}
