package engine

import (
	"context"
	"sync"
	"time"

	"github.com/wwwillott/where-the-hbll-are-you/src/models"
	"github.com/wwwillott/where-the-hbll-are-you/src/store"
)

// Callbacks receives a session's derived state. Registration happens at
// session open so no emission can race the caller wiring them up. Nil
// callbacks are skipped. Callbacks run on the session's internal goroutines
// and must not block.
type Callbacks struct {
	Roster      func([]models.User)
	Requests    func([]string)
	Suggestions func([]models.Suggestion)
	Presence    func(bool)
	Warning     func(error)
}

// Session is one signed-in user's live view: a long-lived subscription to
// the user's own document cascading into a membership subscription over the
// current friend-email set. All subscriptions it owns die with Close.
type Session struct {
	eng    *Engine
	ctx    context.Context
	cancel context.CancelFunc
	userID string
	email  string
	cb     Callbacks

	mu             sync.Mutex
	inLibrary      bool
	friendSet      []string
	requestSet     []string
	rosterSub      store.QuerySubscription
	settleTimer    *time.Timer
	closed         bool
	sawSelf        bool
	pendingToggles int

	selfSub store.Subscription
}

// OpenSession establishes the user's record (creating or staleness-correcting
// it), then starts the self-document subscription that drives the roster
// cascade. The returned session owns every subscription it creates.
func (e *Engine) OpenSession(ctx context.Context, userID, email string, cb Callbacks) (*Session, error) {
	user, err := e.EstablishUser(ctx, userID, email)
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		eng:       e,
		ctx:       sctx,
		cancel:    cancel,
		userID:    userID,
		email:     models.NormalizeEmail(user.Email),
		cb:        cb,
		inLibrary: user.IsInLibrary,
	}

	sub, err := e.store.Subscribe(sctx, UsersKind, userID)
	if err != nil {
		cancel()
		return nil, err
	}
	s.selfSub = sub

	go s.run()

	e.log.WithFields(map[string]any{"user_id": userID, "email": s.email}).Info("session opened")
	return s, nil
}

// Close tears down the self subscription, any active membership
// subscription, and any pending suggestion recomputation.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	rosterSub := s.rosterSub
	s.rosterSub = nil
	if s.settleTimer != nil {
		s.settleTimer.Stop()
		s.settleTimer = nil
	}
	s.mu.Unlock()

	s.cancel()
	s.selfSub.Close()
	if rosterSub != nil {
		rosterSub.Close()
	}
	s.eng.log.WithField("user_id", s.userID).Info("session closed")
}

func (s *Session) run() {
	for doc := range s.selfSub.Updates() {
		s.handleSelf(models.UserFromDoc(doc.ID, doc.Fields))
	}
}

// handleSelf reacts to one emission of the user's own document: adopt the
// authoritative presence value, republish pending requests, and when the
// friend-email set changed, replace the membership subscription feeding the
// roster. Replacing always cancels the previous subscription first so two
// membership streams never run at once.
func (s *Session) handleSelf(user models.User) {
	friends := normalizeSet(user.Friends)
	requests := normalizeSet(user.Requests)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	// The first emission forces a full publish pass: with no friends it is
	// the only way the session ever emits its empty roster and suggestions.
	first := !s.sawSelf
	s.sawSelf = true

	// The opening snapshot predates any optimistic toggle, and a toggle
	// write still in flight will emit its own committed value; presence is
	// adopted only from later emissions with no local write outstanding.
	presenceChanged := !first && s.pendingToggles == 0 && s.inLibrary != user.IsInLibrary
	if presenceChanged {
		s.inLibrary = user.IsInLibrary
	}

	friendsChanged := first || !equalSets(friends, s.friendSet)
	requestsChanged := first || !equalSets(requests, s.requestSet)
	s.friendSet = friends
	s.requestSet = requests

	var oldSub store.QuerySubscription
	if friendsChanged {
		oldSub = s.rosterSub
		s.rosterSub = nil
	}
	s.mu.Unlock()

	if presenceChanged && s.cb.Presence != nil {
		s.cb.Presence(user.IsInLibrary)
	}

	if s.cb.Requests != nil {
		s.cb.Requests(requests)
	}

	if friendsChanged {
		if oldSub != nil {
			oldSub.Close()
		}
		if len(friends) == 0 {
			// No friends to subscribe over: emit the empty roster, whether
			// this is a friendless open or the last removal.
			if s.cb.Roster != nil {
				s.cb.Roster([]models.User{})
			}
		} else {
			sub, err := s.eng.store.SubscribeMembership(s.ctx, UsersKind, models.FieldEmail, store.CapMembership(friends))
			if err != nil {
				s.warn(err)
			} else {
				s.mu.Lock()
				if s.closed {
					s.mu.Unlock()
					sub.Close()
					return
				}
				s.rosterSub = sub
				s.mu.Unlock()
				go s.forwardRoster(sub)
			}
		}
	}

	if friendsChanged || requestsChanged {
		s.scheduleSuggestions()
	}
}

// forwardRoster republishes every emission of one membership subscription as
// the roster. It ends when the subscription is closed, either by replacement
// or by session close.
func (s *Session) forwardRoster(sub store.QuerySubscription) {
	for docs := range sub.Updates() {
		roster := make([]models.User, 0, len(docs))
		for _, doc := range docs {
			user := models.UserFromDoc(doc.ID, doc.Fields)
			if models.NormalizeEmail(user.Email) == s.email {
				continue
			}
			roster = append(roster, user)
		}
		if s.cb.Roster != nil {
			s.cb.Roster(roster)
		}
	}
}

func (s *Session) warn(err error) {
	s.eng.log.WithField("user_id", s.userID).WithError(err).Warn("session degraded")
	if s.cb.Warning != nil {
		s.cb.Warning(err)
	}
}

func normalizeSet(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, e := range in {
		e = models.NormalizeEmail(e)
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}

func equalSets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, e := range a {
		set[e] = true
	}
	for _, e := range b {
		if !set[e] {
			return false
		}
	}
	return true
}
