// Package session keeps the live provider connections of in-progress flows,
// keyed by user. Nothing here is persisted.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/m3rciful/receiverbot/internal/artifact"
	"github.com/m3rciful/receiverbot/internal/domain"
	"github.com/m3rciful/receiverbot/internal/provider"
)

// Session is the live half of a flow.
type Session struct {
	UserID       int64
	Phone        domain.Phone
	Device       domain.DeviceFingerprint
	Client       provider.Client
	ArtifactPath string
	// Password is the secondary password the user entered, kept until the
	// flow commits so it can be rotated.
	Password string

	once sync.Once
	err  error
}

// Close disconnects the client once. With discard set the partial credential
// file is removed as well.
func (s *Session) Close(ctx context.Context, discard bool) error {
	if s == nil {
		return nil
	}
	s.once.Do(func() {
		if s.Client != nil {
			s.err = s.Client.Disconnect(ctx)
		}
	})
	if !discard {
		return s.err
	}
	return errors.Join(s.err, artifact.RemoveFile(s.ArtifactPath))
}

// Cache maps users to their live session. It never closes what it holds.
type Cache struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{sessions: make(map[int64]*Session)}
}

// Put stores s for userID, replacing any previous entry.
func (c *Cache) Put(userID int64, s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[userID] = s
}

// Get returns the session for userID.
func (c *Cache) Get(userID int64) (*Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[userID]
	return s, ok
}

// Contains reports whether userID has a session.
func (c *Cache) Contains(userID int64) bool {
	_, ok := c.Get(userID)
	return ok
}

// Remove drops the entry for userID.
func (c *Cache) Remove(userID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, userID)
}

// Take removes and returns the entry for userID in one step, so only one
// caller ever owns teardown.
func (c *Cache) Take(userID int64) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[userID]
	if ok {
		delete(c.sessions, userID)
	}
	return s, ok
}

// Len returns the number of cached sessions.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}

// Drain empties the cache and returns everything it held.
func (c *Cache) Drain() []*Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Session, 0, len(c.sessions))
	for id, s := range c.sessions {
		out = append(out, s)
		delete(c.sessions, id)
	}
	return out
}
