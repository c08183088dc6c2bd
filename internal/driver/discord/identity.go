package discord

import "sync"

// Identity tracks the bot user id announced by the gateway READY dispatch.
type Identity struct {
	mu     sync.RWMutex
	userID string
}

// NewIdentity creates an identity with no known user.
func NewIdentity() *Identity {
	return &Identity{}
}

// Set records the bot user id.
func (i *Identity) Set(userID string) {
	i.mu.Lock()
	i.userID = userID
	i.mu.Unlock()
}

// UserID returns the bot user id, or "" before READY.
func (i *Identity) UserID() string {
	i.mu.RLock()
	defer i.mu.RUnlock()

	return i.userID
}

// IsSelf reports whether userID is the bot user.
func (i *Identity) IsSelf(userID string) bool {
	if userID == "" {
		return false
	}

	return i.UserID() == userID
}
