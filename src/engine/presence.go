package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/wwwillott/where-the-hbll-are-you/src/models"
	"github.com/wwwillott/where-the-hbll-are-you/src/store"
)

// EstablishUser loads the user's own record, creating it with defaults on
// first sign-in and applying staleness correction before anything downstream
// sees the presence value.
func (e *Engine) EstablishUser(ctx context.Context, userID, email string) (models.User, error) {
	doc, err := e.store.Get(ctx, UsersKind, userID)
	if errors.Is(err, store.ErrNotFound) {
		user := models.User{
			ID:          userID,
			Email:       models.NormalizeEmail(email),
			IsInLibrary: false,
			Friends:     []string{},
			Requests:    []string{},
		}
		if err := e.store.Set(ctx, UsersKind, userID, user.DocFields()); err != nil {
			return models.User{}, fmt.Errorf("creating user record: %w", err)
		}
		e.log.WithFields(map[string]any{"user_id": userID, "email": user.Email}).
			Info("created user record on first sign-in")
		return user, nil
	}
	if err != nil {
		return models.User{}, fmt.Errorf("loading user record: %w", err)
	}

	user := models.UserFromDoc(doc.ID, doc.Fields)
	if e.presenceStale(user) {
		// Correct the stored record before exposing the value anywhere.
		err := e.store.Update(ctx, UsersKind, userID,
			store.SetField(models.FieldIsInLibrary, false),
			store.SetField(models.FieldLastCheckIn, nil),
			store.SetField(models.FieldStatusNote, ""),
		)
		if err != nil {
			return models.User{}, fmt.Errorf("correcting stale presence: %w", err)
		}
		user.IsInLibrary = false
		user.LastCheckIn = nil
		user.StatusNote = ""
		e.log.WithField("user_id", userID).Info("corrected stale presence on load")
	}
	return user, nil
}

// presenceStale reports whether an isInLibrary=true record has outlived its
// validity window. A true record with no check-in timestamp cannot be
// validated and counts as stale.
func (e *Engine) presenceStale(user models.User) bool {
	if !user.IsInLibrary {
		return false
	}
	if user.LastCheckIn == nil {
		return true
	}
	return e.now().Sub(*user.LastCheckIn) >= StaleAfter
}

// TogglePresence is the synchronous form used by the REST surface: load the
// staleness-corrected record, flip it, and report the new state.
func (e *Engine) TogglePresence(ctx context.Context, userID, email, note string) (bool, error) {
	user, err := e.EstablishUser(ctx, userID, email)
	if err != nil {
		return false, err
	}
	target := !user.IsInLibrary

	var ops []store.Op
	if target {
		ops = []store.Op{
			store.SetField(models.FieldIsInLibrary, true),
			store.SetField(models.FieldLastCheckIn, e.store.ServerTimestamp()),
			store.SetField(models.FieldStatusNote, note),
		}
	} else {
		ops = []store.Op{
			store.SetField(models.FieldIsInLibrary, false),
			store.SetField(models.FieldLastCheckIn, nil),
			store.SetField(models.FieldStatusNote, ""),
		}
	}
	if err := e.store.Update(ctx, UsersKind, userID, ops...); err != nil {
		return target, fmt.Errorf("writing presence: %w", err)
	}
	return target, nil
}

// TogglePresence flips the session's local presence optimistically and
// issues the matching write in the background. The local value never waits
// on the store; a failed write surfaces through the session's warning
// callback and the next self-document emission restores the authoritative
// state.
func (s *Session) TogglePresence(note string) bool {
	s.mu.Lock()
	s.inLibrary = !s.inLibrary
	target := s.inLibrary
	s.pendingToggles++
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.pendingToggles--
			s.mu.Unlock()
		}()
		var ops []store.Op
		if target {
			ops = []store.Op{
				store.SetField(models.FieldIsInLibrary, true),
				store.SetField(models.FieldLastCheckIn, s.eng.store.ServerTimestamp()),
				store.SetField(models.FieldStatusNote, note),
			}
		} else {
			ops = []store.Op{
				store.SetField(models.FieldIsInLibrary, false),
				store.SetField(models.FieldLastCheckIn, nil),
				store.SetField(models.FieldStatusNote, ""),
			}
		}
		if err := s.eng.store.Update(s.ctx, UsersKind, s.userID, ops...); err != nil {
			s.warn(fmt.Errorf("presence write failed, local state may diverge until next sync: %w", err))
		}
	}()

	return target
}

// InLibrary returns the session's current local presence value.
func (s *Session) InLibrary() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inLibrary
}
