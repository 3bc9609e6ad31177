package models

import (
	"strings"
	"time"
)

// User is the document stored per identity. Relationship fields (Friends,
// Requests) hold peer emails, not user ids: email is the cross-reference key
// for the whole friend graph.
type User struct {
	ID          string     `json:"user_id"`
	Email       string     `json:"email"`
	DisplayName string     `json:"display_name"`
	PhotoURL    string     `json:"photo_url"`
	IsInLibrary bool       `json:"is_in_library"`
	LastCheckIn *time.Time `json:"last_check_in"`
	StatusNote  string     `json:"status_note"`
	Friends     []string   `json:"friends"`
	Requests    []string   `json:"requests"`
	FCMTokens   []string   `json:"fcm_tokens"`
}

// NormalizeEmail lowercases and trims an email so graph lookups compare equal
// regardless of how the identity provider cased it.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HasFriend reports whether email is already in the user's friend set.
func (u User) HasFriend(email string) bool {
	return containsEmail(u.Friends, email)
}

// HasRequestFrom reports whether email has a pending request to this user.
func (u User) HasRequestFrom(email string) bool {
	return containsEmail(u.Requests, email)
}

func containsEmail(set []string, email string) bool {
	email = NormalizeEmail(email)
	for _, e := range set {
		if NormalizeEmail(e) == email {
			return true
		}
	}
	return false
}

// Suggestion is one ranked mutual-friend candidate.
type Suggestion struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	PhotoURL    string `json:"photo_url"`
	MutualCount int    `json:"mutual_count"`
}
