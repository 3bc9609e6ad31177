package memstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wwwillott/where-the-hbll-are-you/src/store"
)

func TestSetGetRoundtrip(t *testing.T) {
	mem := New()

	err := mem.Set(context.Background(), "users", "u1", map[string]any{"email": "a@example.com"})
	require.NoError(t, err)

	doc, err := mem.Get(context.Background(), "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", doc.ID)
	assert.Equal(t, "a@example.com", doc.Fields["email"])

	_, err = mem.Get(context.Background(), "users", "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateSetSemantics(t *testing.T) {
	mem := New()
	require.NoError(t, mem.Set(context.Background(), "users", "u1", map[string]any{
		"friends": []string{"a@example.com"},
	}))

	// Adding a present value is a no-op, not a duplicate.
	require.NoError(t, mem.Update(context.Background(), "users", "u1",
		store.AddToSet("friends", "a@example.com"),
		store.AddToSet("friends", "b@example.com")))

	doc, err := mem.Get(context.Background(), "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, doc.Fields["friends"])

	// Removing an absent value is a no-op too.
	require.NoError(t, mem.Update(context.Background(), "users", "u1",
		store.RemoveFromSet("friends", "a@example.com"),
		store.RemoveFromSet("friends", "ghost@example.com")))

	doc, err = mem.Get(context.Background(), "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b@example.com"}, doc.Fields["friends"])
}

func TestUpdateMissingDocument(t *testing.T) {
	mem := New()
	err := mem.Update(context.Background(), "users", "ghost", store.SetField("x", 1))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestServerTimestampResolvesAtCommit(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	mem := New()
	mem.Now = func() time.Time { return now }

	require.NoError(t, mem.Set(context.Background(), "users", "u1", map[string]any{
		"lastCheckIn": mem.ServerTimestamp(),
	}))

	doc, err := mem.Get(context.Background(), "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, now, doc.Fields["lastCheckIn"])
}

func TestQueryEqualsAndMembership(t *testing.T) {
	mem := New()
	for i, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		require.NoError(t, mem.Set(context.Background(), "users", fmt.Sprintf("u%d", i),
			map[string]any{"email": email}))
	}

	docs, err := mem.QueryEquals(context.Background(), "users", "email", "b@example.com")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "u1", docs[0].ID)

	docs, err = mem.QueryMembership(context.Background(), "users", "email",
		[]string{"a@example.com", "c@example.com"})
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestQueryMembershipCap(t *testing.T) {
	mem := New()
	values := make([]string, 0, store.MembershipLimit+5)
	for i := 0; i < store.MembershipLimit+5; i++ {
		email := fmt.Sprintf("user%03d@example.com", i)
		values = append(values, email)
		require.NoError(t, mem.Set(context.Background(), "users", fmt.Sprintf("u%03d", i),
			map[string]any{"email": email}))
	}

	docs, err := mem.QueryMembership(context.Background(), "users", "email", values)
	require.NoError(t, err)
	assert.Len(t, docs, store.MembershipLimit, "values beyond the cap are dropped")
}

func TestListIsIDOrdered(t *testing.T) {
	mem := New()
	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, mem.Set(context.Background(), "users", id, map[string]any{}))
	}

	docs, err := mem.List(context.Background(), "users")
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "a", docs[0].ID)
	assert.Equal(t, "b", docs[1].ID)
	assert.Equal(t, "c", docs[2].ID)
}

func TestSubscribeEmitsSnapshotThenUpdates(t *testing.T) {
	mem := New()
	require.NoError(t, mem.Set(context.Background(), "users", "u1", map[string]any{"n": "one"}))

	sub, err := mem.Subscribe(context.Background(), "users", "u1")
	require.NoError(t, err)
	defer sub.Close()

	first := <-sub.Updates()
	assert.Equal(t, "one", first.Fields["n"])

	require.NoError(t, mem.Update(context.Background(), "users", "u1", store.SetField("n", "two")))
	second := <-sub.Updates()
	assert.Equal(t, "two", second.Fields["n"])
}

func TestSubscribeMembershipTracksMembers(t *testing.T) {
	mem := New()
	require.NoError(t, mem.Set(context.Background(), "users", "u1", map[string]any{"email": "a@example.com"}))
	require.NoError(t, mem.Set(context.Background(), "users", "u2", map[string]any{"email": "b@example.com"}))

	sub, err := mem.SubscribeMembership(context.Background(), "users", "email", []string{"a@example.com"})
	require.NoError(t, err)
	defer sub.Close()

	snapshot := <-sub.Updates()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "u1", snapshot[0].ID)

	// A write to a member re-emits the result set; a write to a non-member
	// does not.
	require.NoError(t, mem.Update(context.Background(), "users", "u2", store.SetField("x", 1)))
	require.NoError(t, mem.Update(context.Background(), "users", "u1", store.SetField("x", 1)))

	update := <-sub.Updates()
	require.Len(t, update, 1)
	assert.Equal(t, 1, update[0].Fields["x"])
}

// An undrained subscriber loses old emissions, never the newest one.
func TestSubscribeKeepsLatestWhenBufferFull(t *testing.T) {
	mem := New()
	require.NoError(t, mem.Set(context.Background(), "users", "u1", map[string]any{"n": 0}))

	sub, err := mem.Subscribe(context.Background(), "users", "u1")
	require.NoError(t, err)
	defer sub.Close()

	writes := subscriptionBuffer + 8
	for i := 1; i <= writes; i++ {
		require.NoError(t, mem.Update(context.Background(), "users", "u1", store.SetField("n", i)))
	}

	var last store.Doc
	for drained := false; !drained; {
		select {
		case doc := <-sub.Updates():
			last = doc
		default:
			drained = true
		}
	}
	assert.Equal(t, writes, last.Fields["n"])
}

func TestCloseRemovesSubscription(t *testing.T) {
	mem := New()
	require.NoError(t, mem.Set(context.Background(), "users", "u1", map[string]any{"email": "a@example.com"}))

	dSub, err := mem.Subscribe(context.Background(), "users", "u1")
	require.NoError(t, err)
	qSub, err := mem.SubscribeMembership(context.Background(), "users", "email", []string{"a@example.com"})
	require.NoError(t, err)

	mem.mu.Lock()
	docCount, qryCount := len(mem.docSubs), len(mem.qrySubs)
	mem.mu.Unlock()
	assert.Equal(t, 1, docCount)
	assert.Equal(t, 1, qryCount)

	dSub.Close()
	qSub.Close()

	mem.mu.Lock()
	docCount, qryCount = len(mem.docSubs), len(mem.qrySubs)
	mem.mu.Unlock()
	assert.Zero(t, docCount, "closed subscriptions must not accumulate")
	assert.Zero(t, qryCount, "closed subscriptions must not accumulate")
}

func TestCloseStopsDelivery(t *testing.T) {
	mem := New()
	require.NoError(t, mem.Set(context.Background(), "users", "u1", map[string]any{}))

	sub, err := mem.Subscribe(context.Background(), "users", "u1")
	require.NoError(t, err)
	<-sub.Updates()
	sub.Close()
	sub.Close() // second close is a no-op

	_, open := <-sub.Updates()
	assert.False(t, open, "channel closes with the subscription")
}
