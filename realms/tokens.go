package realms

import "sync"

// TokenCache holds per-realm tokens for one session. It is created at sign-in
// and cleared at sign-out; nothing outlives the session that owns it.
type TokenCache struct {
	mu     sync.Mutex
	tokens map[string]string
}

func NewTokenCache() *TokenCache {
	return &TokenCache{tokens: make(map[string]string)}
}

func (c *TokenCache) Get(realmID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	token, ok := c.tokens[realmID]
	return token, ok
}

func (c *TokenCache) Put(realmID, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[realmID] = token
}

// Invalidate drops a single realm's token, e.g. after the realm rejected it.
func (c *TokenCache) Invalidate(realmID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, realmID)
}

func (c *TokenCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.tokens)
}

func (c *TokenCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tokens)
}
