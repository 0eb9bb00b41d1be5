package ratelimit

import (
	"sync"
	"time"
)

// Registry hands out named singleton limiters so every call site for a
// given API shares the same bucket and queue. Construct one at startup
// and inject it; tests build their own.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*Limiter
	defaults map[string]Config
}

func NewRegistry() *Registry {
	return &Registry{
		limiters: make(map[string]*Limiter),
		defaults: make(map[string]Config),
	}
}

// SetDefault registers the config used when a limiter for name is first
// requested. Has no effect once the limiter exists.
func (r *Registry) SetDefault(name string, cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults[name] = cfg
}

// Get returns the limiter for name, creating it lazily
func (r *Registry) Get(name string) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limiter, ok := r.limiters[name]; ok {
		return limiter
	}

	cfg, ok := r.defaults[name]
	if !ok {
		cfg = Config{
			MaxRequestsPerSecond: 10,
			BurstSize:            20,
			RetryOn429:           true,
			MaxRetries:           3,
			InitialBackoff:       time.Second,
			MaxBackoff:           30 * time.Second,
			BackoffMultiplier:    2,
		}
	}

	limiter := New(cfg)
	r.limiters[name] = limiter
	return limiter
}

// Stats returns queue snapshots for every limiter created so far
func (r *Registry) Stats() map[string]QueueStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := make(map[string]QueueStats, len(r.limiters))
	for name, limiter := range r.limiters {
		stats[name] = limiter.GetQueueStats()
	}
	return stats
}
