package llmgateway

import (
	"sync"
	"time"
)

// keyPool rotates across a provider credential's API keys. It rotates
// aggressively on any rate-limit-class error, and on daily-quota
// exhaustion it skips the exhausted key until its rotation epoch elapses
// using round-robin rotation.
type keyPool struct {
	mu       sync.Mutex
	keys     []string
	next     int
	quotaHit map[string]time.Time // key -> epoch it becomes usable again
}

func newKeyPool(keys []string) *keyPool {
	return &keyPool{keys: keys, quotaHit: make(map[string]time.Time)}
}

// Take returns the next usable key, skipping any still inside its
// quota-exhaustion epoch. Returns false if every key is currently
// exhausted.
func (p *keyPool) Take() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for i := 0; i < len(p.keys); i++ {
		idx := (p.next + i) % len(p.keys)
		key := p.keys[idx]
		if until, exhausted := p.quotaHit[key]; exhausted && now.Before(until) {
			continue
		}
		p.next = (idx + 1) % len(p.keys)
		return key, true
	}
	return "", false
}

// Rotate advances past the given key immediately — called on any
// rate-limit-class error so the next attempt prefers a different key.
func (p *keyPool) Rotate(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, k := range p.keys {
		if k == key {
			p.next = (i + 1) % len(p.keys)
			return
		}
	}
}

// MarkQuotaExhausted benches key until epoch.
func (p *keyPool) MarkQuotaExhausted(key string, epoch time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quotaHit[key] = epoch
}
