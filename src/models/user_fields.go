package models

import "time"

// Field names of the user document as stored. Relationship sets are arrays of
// emails on the wire; set semantics are enforced by the store's update ops.
const (
	FieldEmail       = "email"
	FieldDisplayName = "displayName"
	FieldPhotoURL    = "photoURL"
	FieldIsInLibrary = "isInLibrary"
	FieldLastCheckIn = "lastCheckIn"
	FieldStatusNote  = "statusNote"
	FieldFriends     = "friends"
	FieldRequests    = "requests"
	FieldFCMTokens   = "fcmTokens"
)

// DocFields flattens the user into a stored field map.
func (u User) DocFields() map[string]any {
	fields := map[string]any{
		FieldEmail:       NormalizeEmail(u.Email),
		FieldDisplayName: u.DisplayName,
		FieldPhotoURL:    u.PhotoURL,
		FieldIsInLibrary: u.IsInLibrary,
		FieldStatusNote:  u.StatusNote,
		FieldFriends:     stringSlice(u.Friends),
		FieldRequests:    stringSlice(u.Requests),
		FieldFCMTokens:   stringSlice(u.FCMTokens),
	}
	if u.LastCheckIn != nil {
		fields[FieldLastCheckIn] = u.LastCheckIn.UTC()
	} else {
		fields[FieldLastCheckIn] = nil
	}
	return fields
}

// UserFromDoc rebuilds a User from a stored field map. Unknown fields are
// ignored; missing fields get zero values so documents written by older
// clients still load.
func UserFromDoc(id string, fields map[string]any) User {
	return User{
		ID:          id,
		Email:       fieldString(fields, FieldEmail),
		DisplayName: fieldString(fields, FieldDisplayName),
		PhotoURL:    fieldString(fields, FieldPhotoURL),
		IsInLibrary: fieldBool(fields, FieldIsInLibrary),
		LastCheckIn: fieldTime(fields, FieldLastCheckIn),
		StatusNote:  fieldString(fields, FieldStatusNote),
		Friends:     fieldStrings(fields, FieldFriends),
		Requests:    fieldStrings(fields, FieldRequests),
		FCMTokens:   fieldStrings(fields, FieldFCMTokens),
	}
}

func stringSlice(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func fieldString(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}

func fieldBool(fields map[string]any, key string) bool {
	b, _ := fields[key].(bool)
	return b
}

func fieldStrings(fields map[string]any, key string) []string {
	switch v := fields[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// fieldTime accepts both native time values (memstore) and RFC3339 strings
// (jsonb round-trips through Postgres).
func fieldTime(fields map[string]any, key string) *time.Time {
	switch v := fields[key].(type) {
	case time.Time:
		t := v.UTC()
		return &t
	case *time.Time:
		if v == nil {
			return nil
		}
		t := v.UTC()
		return &t
	case string:
		if v == "" {
			return nil
		}
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil
		}
		t = t.UTC()
		return &t
	}
	return nil
}
