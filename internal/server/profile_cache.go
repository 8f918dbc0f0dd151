package server

import (
	"sync"

	"mindmate/backend/internal/pipeline"
)

// ProfileCache keeps the most recent risk profile per user in process so
// chat turns that follow an assessment see it without a round trip.
type ProfileCache struct {
	mu       sync.RWMutex
	profiles map[string]*pipeline.RiskProfile
}

func NewProfileCache() *ProfileCache {
	return &ProfileCache{profiles: make(map[string]*pipeline.RiskProfile)}
}

func (c *ProfileCache) Get(userID string) (*pipeline.RiskProfile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	profile, ok := c.profiles[userID]
	return profile, ok
}

func (c *ProfileCache) Set(userID string, profile *pipeline.RiskProfile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profiles[userID] = profile
}
