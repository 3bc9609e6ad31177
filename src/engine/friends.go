package engine

import (
	"context"
	"fmt"

	"github.com/wwwillott/where-the-hbll-are-you/src/models"
	"github.com/wwwillott/where-the-hbll-are-you/src/store"
)

// SendRequest appends the sender's email to the target's request set. The
// add carries set semantics, so re-sending an existing request is a silent
// success, not an error. The sender's own document is untouched.
func (e *Engine) SendRequest(ctx context.Context, selfID, toEmail string) error {
	self, err := e.getUser(ctx, selfID)
	if err != nil {
		return err
	}
	toEmail = models.NormalizeEmail(toEmail)
	if toEmail == "" || toEmail == self.Email {
		return ErrInvalidTarget
	}

	target, err := e.findByEmail(ctx, toEmail)
	if err != nil {
		return err
	}
	if target.HasFriend(self.Email) {
		return ErrAlreadyFriends
	}

	err = e.store.Update(ctx, UsersKind, target.ID,
		store.AddToSet(models.FieldRequests, self.Email))
	if err != nil {
		return fmt.Errorf("recording friend request: %w", err)
	}

	e.log.WithFields(map[string]any{"from": self.Email, "to": toEmail}).Info("friend request sent")
	return nil
}

// AcceptRequest makes the friendship symmetric with two writes: the
// accepter's document first, then the requester's. The writes are not
// atomic; if the second fails the error is a *PartialMutationError and the
// edge stays one-sided until a later accept or remove restores symmetry.
func (e *Engine) AcceptRequest(ctx context.Context, selfID, requesterEmail string) error {
	self, err := e.getUser(ctx, selfID)
	if err != nil {
		return err
	}
	requesterEmail = models.NormalizeEmail(requesterEmail)
	if requesterEmail == "" || requesterEmail == self.Email {
		return ErrInvalidTarget
	}

	err = e.store.Update(ctx, UsersKind, selfID,
		store.AddToSet(models.FieldFriends, requesterEmail),
		store.RemoveFromSet(models.FieldRequests, requesterEmail))
	if err != nil {
		return fmt.Errorf("accepting friend request: %w", err)
	}

	requester, err := e.findByEmail(ctx, requesterEmail)
	if err != nil {
		return &PartialMutationError{Op: "accept", Committed: self.Email, Failed: requesterEmail, Err: err}
	}
	err = e.store.Update(ctx, UsersKind, requester.ID,
		store.AddToSet(models.FieldFriends, self.Email))
	if err != nil {
		return &PartialMutationError{Op: "accept", Committed: self.Email, Failed: requesterEmail, Err: err}
	}

	e.log.WithFields(map[string]any{"self": self.Email, "peer": requesterEmail}).Info("friend request accepted")
	return nil
}

// RemoveFriend is the symmetric inverse of AcceptRequest: remove the peer
// from the caller's friend set, then the caller from the peer's. Same
// partial-failure exposure.
func (e *Engine) RemoveFriend(ctx context.Context, selfID, peerEmail string) error {
	self, err := e.getUser(ctx, selfID)
	if err != nil {
		return err
	}
	peerEmail = models.NormalizeEmail(peerEmail)
	if peerEmail == "" || peerEmail == self.Email {
		return ErrInvalidTarget
	}

	err = e.store.Update(ctx, UsersKind, selfID,
		store.RemoveFromSet(models.FieldFriends, peerEmail))
	if err != nil {
		return fmt.Errorf("removing friend: %w", err)
	}

	peer, err := e.findByEmail(ctx, peerEmail)
	if err != nil {
		return &PartialMutationError{Op: "remove", Committed: self.Email, Failed: peerEmail, Err: err}
	}
	err = e.store.Update(ctx, UsersKind, peer.ID,
		store.RemoveFromSet(models.FieldFriends, self.Email))
	if err != nil {
		return &PartialMutationError{Op: "remove", Committed: self.Email, Failed: peerEmail, Err: err}
	}

	e.log.WithFields(map[string]any{"self": self.Email, "peer": peerEmail}).Info("friend removed")
	return nil
}

// DenyRequest drops a pending request without creating an edge.
func (e *Engine) DenyRequest(ctx context.Context, selfID, requesterEmail string) error {
	requesterEmail = models.NormalizeEmail(requesterEmail)
	err := e.store.Update(ctx, UsersKind, selfID,
		store.RemoveFromSet(models.FieldRequests, requesterEmail))
	if err != nil {
		return fmt.Errorf("denying friend request: %w", err)
	}
	return nil
}

// Friends returns the live records of the user's current friends, capped at
// the store's membership-query limit.
func (e *Engine) Friends(ctx context.Context, selfID string) ([]models.User, error) {
	self, err := e.getUser(ctx, selfID)
	if err != nil {
		return nil, err
	}
	if len(self.Friends) == 0 {
		return []models.User{}, nil
	}
	docs, err := e.store.QueryMembership(ctx, UsersKind, models.FieldEmail, self.Friends)
	if err != nil {
		return nil, fmt.Errorf("loading friends: %w", err)
	}
	friends := make([]models.User, 0, len(docs))
	for _, doc := range docs {
		friends = append(friends, models.UserFromDoc(doc.ID, doc.Fields))
	}
	return friends, nil
}

// UserByEmail resolves a user record by its graph key.
func (e *Engine) UserByEmail(ctx context.Context, email string) (models.User, error) {
	return e.findByEmail(ctx, models.NormalizeEmail(email))
}

// RegisterFCMToken attaches a device token to the user's record so pushes
// reach every signed-in device. Set semantics keep re-registration cheap.
func (e *Engine) RegisterFCMToken(ctx context.Context, userID, token string) error {
	if token == "" {
		return nil
	}
	return e.store.Update(ctx, UsersKind, userID,
		store.AddToSet(models.FieldFCMTokens, token))
}

func (e *Engine) getUser(ctx context.Context, userID string) (models.User, error) {
	doc, err := e.store.Get(ctx, UsersKind, userID)
	if err != nil {
		return models.User{}, fmt.Errorf("loading user record: %w", err)
	}
	return models.UserFromDoc(doc.ID, doc.Fields), nil
}

func (e *Engine) findByEmail(ctx context.Context, email string) (models.User, error) {
	docs, err := e.store.QueryEquals(ctx, UsersKind, models.FieldEmail, email)
	if err != nil {
		return models.User{}, fmt.Errorf("looking up %s: %w", email, err)
	}
	if len(docs) == 0 {
		return models.User{}, ErrUserNotFound
	}
	return models.UserFromDoc(docs[0].ID, docs[0].Fields), nil
}
