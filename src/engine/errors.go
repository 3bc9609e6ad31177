package engine

import (
	"errors"
	"fmt"
)

// Friend graph rejections (user-facing, operation simply does not proceed)
var (
	ErrInvalidTarget  = errors.New("cannot send a friend request to yourself") // 400
	ErrUserNotFound   = errors.New("no user with that email")                  // 404
	ErrAlreadyFriends = errors.New("already friends")                          // 409
)

// PartialMutationError reports a two-write graph mutation whose second write
// failed after the first committed. The relationship is asymmetric until a
// later accept/remove covers the failed side; the engine does not retry.
type PartialMutationError struct {
	Op        string // "accept" or "remove"
	Committed string // email whose document was updated
	Failed    string // email whose document was not
	Err       error
}

func (e *PartialMutationError) Error() string {
	return fmt.Sprintf("%s committed for %s but failed for %s: %v", e.Op, e.Committed, e.Failed, e.Err)
}

func (e *PartialMutationError) Unwrap() error { return e.Err }
