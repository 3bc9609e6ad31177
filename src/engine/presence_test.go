package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wwwillott/where-the-hbll-are-you/src/engine"
	"github.com/wwwillott/where-the-hbll-are-you/src/models"
	"github.com/wwwillott/where-the-hbll-are-you/src/store/memstore"
)

func TestEstablishUserCreatesRecordOnFirstSignIn(t *testing.T) {
	mem := memstore.New()
	eng := engine.New(mem)

	user, err := eng.EstablishUser(context.Background(), "u1", "Someone@Example.COM")
	require.NoError(t, err)

	assert.Equal(t, "u1", user.ID)
	assert.Equal(t, "someone@example.com", user.Email)
	assert.False(t, user.IsInLibrary)
	assert.Empty(t, user.Friends)
	assert.Empty(t, user.Requests)

	stored := loadUser(t, mem, "u1")
	assert.Equal(t, "someone@example.com", stored.Email)
}

func TestEstablishUserCorrectsStalePresence(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	mem := memstore.New()
	eng := engine.New(mem, engine.WithClock(func() time.Time { return now }))

	checkIn := now.Add(-5 * time.Hour)
	user := models.User{
		ID:          "u1",
		Email:       "someone@example.com",
		IsInLibrary: true,
		LastCheckIn: &checkIn,
		StatusNote:  "4th floor",
	}
	require.NoError(t, mem.Set(context.Background(), engine.UsersKind, "u1", user.DocFields()))

	got, err := eng.EstablishUser(context.Background(), "u1", "someone@example.com")
	require.NoError(t, err)

	assert.False(t, got.IsInLibrary)
	assert.Nil(t, got.LastCheckIn)
	assert.Empty(t, got.StatusNote)

	// The correction is written back before anything downstream reads it.
	stored := loadUser(t, mem, "u1")
	assert.False(t, stored.IsInLibrary)
	assert.Nil(t, stored.LastCheckIn)
}

func TestEstablishUserKeepsFreshPresence(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	mem := memstore.New()
	eng := engine.New(mem, engine.WithClock(func() time.Time { return now }))

	checkIn := now.Add(-time.Hour)
	user := models.User{
		ID:          "u1",
		Email:       "someone@example.com",
		IsInLibrary: true,
		LastCheckIn: &checkIn,
		StatusNote:  "by the printers",
	}
	require.NoError(t, mem.Set(context.Background(), engine.UsersKind, "u1", user.DocFields()))

	got, err := eng.EstablishUser(context.Background(), "u1", "someone@example.com")
	require.NoError(t, err)

	assert.True(t, got.IsInLibrary)
	require.NotNil(t, got.LastCheckIn)
	assert.Equal(t, checkIn, *got.LastCheckIn)
	assert.Equal(t, "by the printers", got.StatusNote)
}

func TestEstablishUserTreatsMissingCheckInAsStale(t *testing.T) {
	mem := memstore.New()
	eng := engine.New(mem)

	user := models.User{ID: "u1", Email: "someone@example.com", IsInLibrary: true}
	require.NoError(t, mem.Set(context.Background(), engine.UsersKind, "u1", user.DocFields()))

	got, err := eng.EstablishUser(context.Background(), "u1", "someone@example.com")
	require.NoError(t, err)
	assert.False(t, got.IsInLibrary)
}

func TestTogglePresenceOnSetsCheckInAndNote(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	mem := memstore.New()
	mem.Now = func() time.Time { return now }
	eng := engine.New(mem, engine.WithClock(func() time.Time { return now }))

	seedUser(t, mem, "u1", "someone@example.com", nil, nil)

	inLibrary, err := eng.TogglePresence(context.Background(), "u1", "someone@example.com", "3rd floor, by the windows")
	require.NoError(t, err)
	assert.True(t, inLibrary)

	stored := loadUser(t, mem, "u1")
	assert.True(t, stored.IsInLibrary)
	require.NotNil(t, stored.LastCheckIn)
	assert.Equal(t, now, *stored.LastCheckIn)
	assert.Equal(t, "3rd floor, by the windows", stored.StatusNote)
}

func TestTogglePresenceOffClearsCheckInAndNote(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	mem := memstore.New()
	mem.Now = func() time.Time { return now }
	eng := engine.New(mem, engine.WithClock(func() time.Time { return now }))

	checkIn := now.Add(-time.Hour)
	user := models.User{
		ID:          "u1",
		Email:       "someone@example.com",
		IsInLibrary: true,
		LastCheckIn: &checkIn,
		StatusNote:  "here",
	}
	require.NoError(t, mem.Set(context.Background(), engine.UsersKind, "u1", user.DocFields()))

	inLibrary, err := eng.TogglePresence(context.Background(), "u1", "someone@example.com", "")
	require.NoError(t, err)
	assert.False(t, inLibrary)

	stored := loadUser(t, mem, "u1")
	assert.False(t, stored.IsInLibrary)
	assert.Nil(t, stored.LastCheckIn)
	assert.Empty(t, stored.StatusNote)
}
