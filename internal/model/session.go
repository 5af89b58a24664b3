package model

import "time"

// Session is the persisted record of the last resolved, allow-list-checked
// identity for one browser.
//
// It is stored as a single JSON document under the browser's key, so the
// json tags below are the storage format as well as the API format.
type Session struct {
	Identity  Identity  `json:"identity"`
	CreatedAt time.Time `json:"createdAt"`
}

// Expired reports whether the session is older than ttl.
// A zero or negative ttl means sessions never expire.
func (s *Session) Expired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return !now.Before(s.CreatedAt.Add(ttl))
}
