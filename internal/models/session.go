package models

import "time"

// SessionRecord is what the desk keeps between navigations. It is written
// only by the session authority.
type SessionRecord struct {
	Credential   string    `json:"credential"`
	Alive        bool      `json:"alive"`
	LastActivity time.Time `json:"lastActivity"`
	CachedRole   RoleID    `json:"cachedRole"`
}
