// Package memstore is an in-memory document store with the same subscription
// semantics as the Postgres adapter. It backs local development (no database
// configured) and the engine tests, which inject per-document errors.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wwwillott/where-the-hbll-are-you/src/store"
)

const subscriptionBuffer = 64

type Mem struct {
	// Now is the commit clock; tests swap it for a fixed instant.
	Now func() time.Time

	mu      sync.RWMutex
	docs    map[string]map[string]map[string]any
	docSubs []*docSub
	qrySubs []*querySub

	getErr    error
	setErr    error
	listErr   error
	queryErr  error
	updateErr map[string]error
}

func New() *Mem {
	return &Mem{
		Now:       func() time.Time { return time.Now().UTC() },
		docs:      make(map[string]map[string]map[string]any),
		updateErr: make(map[string]error),
	}
}

// FailGet makes every Get return err until cleared with nil.
func (m *Mem) FailGet(err error) { m.mu.Lock(); m.getErr = err; m.mu.Unlock() }

// FailSet makes every Set return err until cleared with nil.
func (m *Mem) FailSet(err error) { m.mu.Lock(); m.setErr = err; m.mu.Unlock() }

// FailList makes every List return err until cleared with nil.
func (m *Mem) FailList(err error) { m.mu.Lock(); m.listErr = err; m.mu.Unlock() }

// FailQuery makes every query return err until cleared with nil.
func (m *Mem) FailQuery(err error) { m.mu.Lock(); m.queryErr = err; m.mu.Unlock() }

// FailUpdate makes Update on one document id return err until cleared. Used
// to exercise the second half of a two-write mutation failing.
func (m *Mem) FailUpdate(id string, err error) {
	m.mu.Lock()
	if err == nil {
		delete(m.updateErr, id)
	} else {
		m.updateErr[id] = err
	}
	m.mu.Unlock()
}

func (m *Mem) ServerTimestamp() any { return store.ServerTimestampValue }

func (m *Mem) Get(ctx context.Context, kind, id string) (store.Doc, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.getErr != nil {
		return store.Doc{}, m.getErr
	}
	fields, ok := m.docs[kind][id]
	if !ok {
		return store.Doc{}, store.ErrNotFound
	}
	return store.Doc{ID: id, Fields: copyFields(fields)}, nil
}

func (m *Mem) Set(ctx context.Context, kind, id string, fields map[string]any) error {
	m.mu.Lock()
	if m.setErr != nil {
		err := m.setErr
		m.mu.Unlock()
		return err
	}
	if m.docs[kind] == nil {
		m.docs[kind] = make(map[string]map[string]any)
	}
	m.docs[kind][id] = m.resolveTimestamps(copyFields(fields))
	m.mu.Unlock()

	m.notify(kind, id)
	return nil
}

func (m *Mem) Update(ctx context.Context, kind, id string, ops ...store.Op) error {
	m.mu.Lock()
	if err := m.updateErr[id]; err != nil {
		m.mu.Unlock()
		return err
	}
	fields, ok := m.docs[kind][id]
	if !ok {
		m.mu.Unlock()
		return store.ErrNotFound
	}
	now := m.Now()
	for _, op := range ops {
		value := op.Value
		if store.IsServerTimestamp(value) {
			value = now
		}
		switch op.Kind {
		case store.OpSet:
			fields[op.Field] = value
		case store.OpAddToSet:
			fields[op.Field] = addToSet(fields[op.Field], value)
		case store.OpRemoveFromSet:
			fields[op.Field] = removeFromSet(fields[op.Field], value)
		}
	}
	m.mu.Unlock()

	m.notify(kind, id)
	return nil
}

func (m *Mem) QueryEquals(ctx context.Context, kind, field string, value any) ([]store.Doc, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	return m.queryEqualsLocked(kind, field, value), nil
}

func (m *Mem) QueryMembership(ctx context.Context, kind, field string, values []string) ([]store.Doc, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	return m.queryMembershipLocked(kind, field, store.CapMembership(values)), nil
}

func (m *Mem) List(ctx context.Context, kind string) ([]store.Doc, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	ids := make([]string, 0, len(m.docs[kind]))
	for id := range m.docs[kind] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	docs := make([]store.Doc, 0, len(ids))
	for _, id := range ids {
		docs = append(docs, store.Doc{ID: id, Fields: copyFields(m.docs[kind][id])})
	}
	return docs, nil
}

func (m *Mem) queryEqualsLocked(kind, field string, value any) []store.Doc {
	var docs []store.Doc
	for id, fields := range m.docs[kind] {
		if fields[field] == value {
			docs = append(docs, store.Doc{ID: id, Fields: copyFields(fields)})
		}
	}
	return docs
}

func (m *Mem) queryMembershipLocked(kind, field string, values []string) []store.Doc {
	var docs []store.Doc
	for id, fields := range m.docs[kind] {
		v, _ := fields[field].(string)
		for _, want := range values {
			if v == want {
				docs = append(docs, store.Doc{ID: id, Fields: copyFields(fields)})
				break
			}
		}
	}
	return docs
}

func (m *Mem) Subscribe(ctx context.Context, kind, id string) (store.Subscription, error) {
	sub := &docSub{mem: m, kind: kind, id: id, ch: make(chan store.Doc, subscriptionBuffer)}

	m.mu.Lock()
	m.docSubs = append(m.docSubs, sub)
	if fields, ok := m.docs[kind][id]; ok {
		sub.ch <- store.Doc{ID: id, Fields: copyFields(fields)}
	}
	m.mu.Unlock()

	return sub, nil
}

func (m *Mem) SubscribeMembership(ctx context.Context, kind, field string, values []string) (store.QuerySubscription, error) {
	values = store.CapMembership(values)
	sub := &querySub{mem: m, kind: kind, field: field, values: values, ch: make(chan []store.Doc, subscriptionBuffer)}

	m.mu.Lock()
	m.qrySubs = append(m.qrySubs, sub)
	sub.ch <- m.queryMembershipLocked(kind, field, values)
	m.mu.Unlock()

	return sub, nil
}

// notify fans a committed write out to every matching subscription. Channel
// buffers absorb bursts; a subscriber that stops draining loses old
// emissions but always keeps the newest.
func (m *Mem) notify(kind, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fields, exists := m.docs[kind][id]
	for _, sub := range m.docSubs {
		if sub.closed || sub.kind != kind || sub.id != id || !exists {
			continue
		}
		store.SendLatest(sub.ch, store.Doc{ID: id, Fields: copyFields(fields)})
	}
	for _, sub := range m.qrySubs {
		if sub.closed || sub.kind != kind {
			continue
		}
		if !sub.matches(fields) {
			continue
		}
		store.SendLatest(sub.ch, m.queryMembershipLocked(kind, sub.field, sub.values))
	}
}

func (m *Mem) resolveTimestamps(fields map[string]any) map[string]any {
	now := m.Now()
	for k, v := range fields {
		if store.IsServerTimestamp(v) {
			fields[k] = now
		}
	}
	return fields
}

type docSub struct {
	mem       *Mem
	kind, id  string
	ch        chan store.Doc
	closed    bool
	closeOnce sync.Once
}

func (s *docSub) Updates() <-chan store.Doc { return s.ch }

func (s *docSub) Close() {
	s.closeOnce.Do(func() {
		s.mem.mu.Lock()
		s.closed = true
		subs := s.mem.docSubs[:0]
		for _, sub := range s.mem.docSubs {
			if sub != s {
				subs = append(subs, sub)
			}
		}
		s.mem.docSubs = subs
		s.mem.mu.Unlock()
		close(s.ch)
	})
}

type querySub struct {
	mem       *Mem
	kind      string
	field     string
	values    []string
	ch        chan []store.Doc
	closed    bool
	closeOnce sync.Once
}

func (s *querySub) matches(fields map[string]any) bool {
	v, _ := fields[s.field].(string)
	for _, want := range s.values {
		if v == want {
			return true
		}
	}
	return false
}

func (s *querySub) Updates() <-chan []store.Doc { return s.ch }

func (s *querySub) Close() {
	s.closeOnce.Do(func() {
		s.mem.mu.Lock()
		s.closed = true
		subs := s.mem.qrySubs[:0]
		for _, sub := range s.mem.qrySubs {
			if sub != s {
				subs = append(subs, sub)
			}
		}
		s.mem.qrySubs = subs
		s.mem.mu.Unlock()
		close(s.ch)
	})
}

func addToSet(current, value any) any {
	s, _ := value.(string)
	set := toStrings(current)
	for _, e := range set {
		if e == s {
			return set
		}
	}
	return append(set, s)
}

func removeFromSet(current, value any) any {
	s, _ := value.(string)
	set := toStrings(current)
	out := make([]string, 0, len(set))
	for _, e := range set {
		if e != s {
			out = append(out, e)
		}
	}
	return out
}

func toStrings(v any) []string {
	switch set := v.(type) {
	case []string:
		out := make([]string, len(set))
		copy(out, set)
		return out
	case []any:
		out := make([]string, 0, len(set))
		for _, e := range set {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return []string{}
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if set, ok := v.([]string); ok {
			c := make([]string, len(set))
			copy(c, set)
			out[k] = c
			continue
		}
		out[k] = v
	}
	return out
}
