package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/wwwillott/where-the-hbll-are-you/src/models"
)

// scheduleSuggestions arms (or re-arms) the stabilization timer after a
// graph change. An empty friend set short-circuits: no mutual friend is
// possible, so the empty list is emitted without the delay or the read.
func (s *Session) scheduleSuggestions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if len(s.friendSet) == 0 {
		if s.settleTimer != nil {
			s.settleTimer.Stop()
			s.settleTimer = nil
		}
		if s.cb.Suggestions != nil {
			go s.cb.Suggestions([]models.Suggestion{})
		}
		return
	}
	if s.settleTimer != nil {
		s.settleTimer.Stop()
	}
	s.settleTimer = s.eng.newSettleTimer(func() {
		s.computeSuggestions()
	})
}

func (s *Session) computeSuggestions() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	self := models.User{
		ID:       s.userID,
		Email:    s.email,
		Friends:  append([]string(nil), s.friendSet...),
		Requests: append([]string(nil), s.requestSet...),
	}
	s.mu.Unlock()

	suggestions, err := s.eng.RankSuggestions(s.ctx, self)
	if err != nil {
		s.warn(err)
		return
	}
	if s.cb.Suggestions != nil {
		s.cb.Suggestions(suggestions)
	}
}

// RankSuggestions enumerates every user record and ranks non-friend,
// non-requester candidates by how many of their friends are in the caller's
// current friend set. The full enumeration is an accepted O(total users)
// cost at this system's scale. The mutual count is validated against the
// caller's live friend set, not the candidate's raw list, so a freshly
// removed friend cannot inflate it.
func (e *Engine) RankSuggestions(ctx context.Context, self models.User) ([]models.Suggestion, error) {
	selfEmail := models.NormalizeEmail(self.Email)

	friendSet := make(map[string]bool, len(self.Friends))
	for _, f := range self.Friends {
		friendSet[models.NormalizeEmail(f)] = true
	}
	if len(friendSet) == 0 {
		return []models.Suggestion{}, nil
	}
	requestSet := make(map[string]bool, len(self.Requests))
	for _, r := range self.Requests {
		requestSet[models.NormalizeEmail(r)] = true
	}

	docs, err := e.store.List(ctx, UsersKind)
	if err != nil {
		return nil, fmt.Errorf("enumerating users: %w", err)
	}

	suggestions := make([]models.Suggestion, 0)
	for _, doc := range docs {
		candidate := models.UserFromDoc(doc.ID, doc.Fields)
		email := models.NormalizeEmail(candidate.Email)
		if email == "" || email == selfEmail || friendSet[email] || requestSet[email] {
			continue
		}
		mutual := 0
		for _, f := range candidate.Friends {
			if friendSet[models.NormalizeEmail(f)] {
				mutual++
			}
		}
		if mutual == 0 {
			continue
		}
		suggestions = append(suggestions, models.Suggestion{
			Email:       email,
			DisplayName: candidate.DisplayName,
			PhotoURL:    candidate.PhotoURL,
			MutualCount: mutual,
		})
	}

	// Stable sort keeps ties in enumeration order, so equal counts rank
	// deterministically.
	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].MutualCount > suggestions[j].MutualCount
	})
	return suggestions, nil
}

// Suggestions is the one-shot form used by the HTTP surface: rank against
// the caller's stored record as it is right now.
func (e *Engine) Suggestions(ctx context.Context, selfID string) ([]models.Suggestion, error) {
	self, err := e.getUser(ctx, selfID)
	if err != nil {
		return nil, err
	}
	return e.RankSuggestions(ctx, self)
}
