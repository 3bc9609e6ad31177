package models

type FirebaseNotification struct {
	Type           string `json:"type"`
	RequesterEmail string `json:"requester_email"`
	RecipientEmail string `json:"recipient_email"`
}
