package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wwwillott/where-the-hbll-are-you/src/engine"
	"github.com/wwwillott/where-the-hbll-are-you/src/models"
	"github.com/wwwillott/where-the-hbll-are-you/src/store"
	"github.com/wwwillott/where-the-hbll-are-you/src/store/memstore"
)

const emitWait = 2 * time.Second

type capture struct {
	rosters     chan []models.User
	requests    chan []string
	suggestions chan []models.Suggestion
	presence    chan bool
	warnings    chan error
}

func newCapture() *capture {
	return &capture{
		rosters:     make(chan []models.User, 16),
		requests:    make(chan []string, 16),
		suggestions: make(chan []models.Suggestion, 16),
		presence:    make(chan bool, 16),
		warnings:    make(chan error, 16),
	}
}

func (c *capture) callbacks() engine.Callbacks {
	return engine.Callbacks{
		Roster:      func(r []models.User) { c.rosters <- r },
		Requests:    func(r []string) { c.requests <- r },
		Suggestions: func(s []models.Suggestion) { c.suggestions <- s },
		Presence:    func(in bool) { c.presence <- in },
		Warning:     func(err error) { c.warnings <- err },
	}
}

func waitFor[T any](t *testing.T, ch chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(emitWait):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

// waitForRoster drains emissions until one satisfies the predicate.
func waitForRoster(t *testing.T, c *capture, ok func([]models.User) bool) []models.User {
	t.Helper()
	deadline := time.After(emitWait)
	for {
		select {
		case roster := <-c.rosters:
			if ok(roster) {
				return roster
			}
		case <-deadline:
			t.Fatal("timed out waiting for matching roster emission")
			panic("unreachable")
		}
	}
}

func TestSessionEmitsRosterForExistingFriends(t *testing.T) {
	mem := memstore.New()
	eng := engine.New(mem, engine.WithSuggestionSettle(10*time.Millisecond))
	seedUser(t, mem, "a", "a@example.com", []string{"b@example.com"}, nil)
	seedUser(t, mem, "b", "b@example.com", []string{"a@example.com"}, nil)

	c := newCapture()
	sess, err := eng.OpenSession(context.Background(), "a", "a@example.com", c.callbacks())
	require.NoError(t, err)
	defer sess.Close()

	roster := waitForRoster(t, c, func(r []models.User) bool { return len(r) == 1 })
	assert.Equal(t, "b@example.com", roster[0].Email)
}

func TestSessionRosterTracksFriendPresence(t *testing.T) {
	mem := memstore.New()
	eng := engine.New(mem, engine.WithSuggestionSettle(10*time.Millisecond))
	seedUser(t, mem, "a", "a@example.com", []string{"b@example.com"}, nil)
	seedUser(t, mem, "b", "b@example.com", []string{"a@example.com"}, nil)

	c := newCapture()
	sess, err := eng.OpenSession(context.Background(), "a", "a@example.com", c.callbacks())
	require.NoError(t, err)
	defer sess.Close()

	waitForRoster(t, c, func(r []models.User) bool { return len(r) == 1 })

	// B checks in; A's roster hears about it with no polling.
	require.NoError(t, mem.Update(context.Background(), engine.UsersKind, "b",
		store.SetField(models.FieldIsInLibrary, true),
		store.SetField(models.FieldLastCheckIn, mem.ServerTimestamp()),
		store.SetField(models.FieldStatusNote, "2nd floor"),
	))

	roster := waitForRoster(t, c, func(r []models.User) bool {
		return len(r) == 1 && r[0].IsInLibrary
	})
	assert.Equal(t, "2nd floor", roster[0].StatusNote)
}

func TestSessionClearsRosterWhenLastFriendRemoved(t *testing.T) {
	mem := memstore.New()
	eng := engine.New(mem, engine.WithSuggestionSettle(10*time.Millisecond))
	seedUser(t, mem, "a", "a@example.com", []string{"b@example.com"}, nil)
	seedUser(t, mem, "b", "b@example.com", []string{"a@example.com"}, nil)

	c := newCapture()
	sess, err := eng.OpenSession(context.Background(), "a", "a@example.com", c.callbacks())
	require.NoError(t, err)
	defer sess.Close()

	waitForRoster(t, c, func(r []models.User) bool { return len(r) == 1 })

	require.NoError(t, eng.RemoveFriend(context.Background(), "a", "b@example.com"))

	roster := waitForRoster(t, c, func(r []models.User) bool { return len(r) == 0 })
	assert.Empty(t, roster, "stale roster must not survive the last removal")
}

func TestSessionPublishesPendingRequests(t *testing.T) {
	mem := memstore.New()
	eng := engine.New(mem, engine.WithSuggestionSettle(10*time.Millisecond))
	seedUser(t, mem, "a", "a@example.com", nil, nil)
	seedUser(t, mem, "b", "b@example.com", nil, nil)

	c := newCapture()
	sess, err := eng.OpenSession(context.Background(), "b", "b@example.com", c.callbacks())
	require.NoError(t, err)
	defer sess.Close()

	initial := waitFor(t, c.requests, "initial requests")
	assert.Empty(t, initial)

	require.NoError(t, eng.SendRequest(context.Background(), "a", "b@example.com"))

	deadline := time.After(emitWait)
	for {
		select {
		case requests := <-c.requests:
			if len(requests) == 1 {
				assert.Equal(t, "a@example.com", requests[0])
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for request emission")
		}
	}
}

func TestSessionInitialPresenceIsStalenessCorrected(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	mem := memstore.New()
	eng := engine.New(mem,
		engine.WithClock(func() time.Time { return now }),
		engine.WithSuggestionSettle(10*time.Millisecond))

	checkIn := now.Add(-engine.StaleAfter)
	user := models.User{
		ID:          "a",
		Email:       "a@example.com",
		IsInLibrary: true,
		LastCheckIn: &checkIn,
	}
	require.NoError(t, mem.Set(context.Background(), engine.UsersKind, "a", user.DocFields()))

	c := newCapture()
	sess, err := eng.OpenSession(context.Background(), "a", "a@example.com", c.callbacks())
	require.NoError(t, err)
	defer sess.Close()

	assert.False(t, sess.InLibrary())
}

func TestSessionTogglePresenceIsOptimistic(t *testing.T) {
	mem := memstore.New()
	eng := engine.New(mem, engine.WithSuggestionSettle(10*time.Millisecond))
	seedUser(t, mem, "a", "a@example.com", nil, nil)

	c := newCapture()
	sess, err := eng.OpenSession(context.Background(), "a", "a@example.com", c.callbacks())
	require.NoError(t, err)
	defer sess.Close()

	assert.True(t, sess.TogglePresence("studying"))
	assert.True(t, sess.InLibrary(), "local flip must not wait on the write")

	require.Eventually(t, func() bool {
		return loadUser(t, mem, "a").IsInLibrary
	}, emitWait, 10*time.Millisecond)
	assert.Equal(t, "studying", loadUser(t, mem, "a").StatusNote)
}

func TestSessionToggleWriteFailureSurfacesWarning(t *testing.T) {
	mem := memstore.New()
	eng := engine.New(mem, engine.WithSuggestionSettle(10*time.Millisecond))
	seedUser(t, mem, "a", "a@example.com", nil, nil)

	c := newCapture()
	sess, err := eng.OpenSession(context.Background(), "a", "a@example.com", c.callbacks())
	require.NoError(t, err)
	defer sess.Close()

	mem.FailUpdate("a", assert.AnError)
	assert.True(t, sess.TogglePresence(""), "local flip happens even when the write will fail")

	warning := waitFor(t, c.warnings, "toggle warning")
	assert.ErrorIs(t, warning, assert.AnError)
}

// A toggle whose write failed leaves local state ahead of the store; the
// next self-document emission must pull it back to the committed value.
func TestSessionSyncRestoresPresenceAfterFailedToggle(t *testing.T) {
	mem := memstore.New()
	eng := engine.New(mem, engine.WithSuggestionSettle(10*time.Millisecond))
	seedUser(t, mem, "a", "a@example.com", nil, nil)

	c := newCapture()
	sess, err := eng.OpenSession(context.Background(), "a", "a@example.com", c.callbacks())
	require.NoError(t, err)
	defer sess.Close()

	mem.FailUpdate("a", assert.AnError)
	require.True(t, sess.TogglePresence(""))
	waitFor(t, c.warnings, "toggle warning")
	mem.FailUpdate("a", nil)

	// Each committed write emits the stored record; the divergent local
	// value has to fall back to it.
	require.Eventually(t, func() bool {
		require.NoError(t, mem.Update(context.Background(), engine.UsersKind, "a",
			store.SetField(models.FieldStatusNote, "")))
		return !sess.InLibrary()
	}, emitWait, 20*time.Millisecond)

	deadline := time.After(emitWait)
	for {
		select {
		case inLibrary := <-c.presence:
			if !inLibrary {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for corrective presence emission")
		}
	}
}

// Opening a session with no friends must still deliver the initial empty
// roster and suggestions, not silence.
func TestSessionFriendlessOpenEmitsEmptyState(t *testing.T) {
	mem := memstore.New()
	eng := engine.New(mem, engine.WithSuggestionSettle(10*time.Millisecond))
	seedUser(t, mem, "a", "a@example.com", nil, nil)

	c := newCapture()
	sess, err := eng.OpenSession(context.Background(), "a", "a@example.com", c.callbacks())
	require.NoError(t, err)
	defer sess.Close()

	assert.Empty(t, waitFor(t, c.rosters, "initial roster"))
	assert.Empty(t, waitFor(t, c.suggestions, "initial suggestions"))
	assert.Empty(t, waitFor(t, c.requests, "initial requests"))
}

func TestSessionCloseStopsEmissions(t *testing.T) {
	mem := memstore.New()
	eng := engine.New(mem, engine.WithSuggestionSettle(10*time.Millisecond))
	seedUser(t, mem, "a", "a@example.com", []string{"b@example.com"}, nil)
	seedUser(t, mem, "b", "b@example.com", []string{"a@example.com"}, nil)

	c := newCapture()
	sess, err := eng.OpenSession(context.Background(), "a", "a@example.com", c.callbacks())
	require.NoError(t, err)

	waitForRoster(t, c, func(r []models.User) bool { return len(r) == 1 })
	sess.Close()

	// Drain anything in flight, then confirm silence after a fresh write.
	for {
		select {
		case <-c.rosters:
			continue
		case <-time.After(50 * time.Millisecond):
		}
		break
	}

	require.NoError(t, mem.Update(context.Background(), engine.UsersKind, "b",
		store.SetField(models.FieldIsInLibrary, true)))

	select {
	case roster := <-c.rosters:
		t.Fatalf("closed session still emitted roster: %v", roster)
	case <-time.After(200 * time.Millisecond):
	}
}
