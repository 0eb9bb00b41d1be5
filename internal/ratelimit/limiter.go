package ratelimit

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RequestFunc is one unit of rate-limited work
type RequestFunc func(ctx context.Context) (interface{}, error)

type Config struct {
	MaxRequestsPerSecond float64
	BurstSize            int
	RetryOn429           bool
	MaxRetries           int
	InitialBackoff       time.Duration
	MaxBackoff           time.Duration
	BackoffMultiplier    float64
}

func (c Config) withDefaults() Config {
	if c.MaxRequestsPerSecond <= 0 {
		c.MaxRequestsPerSecond = 10
	}
	if c.BurstSize <= 0 {
		c.BurstSize = 20
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = 2
	}
	return c
}

// Implements a token bucket with a FIFO queue for requests that arrive
// when tokens are exhausted. Tokens refill continuously based on elapsed
// time; a single drain goroutine owns the queue at any moment.
type Limiter struct {
	mu         sync.Mutex
	config     Config
	tokens     float64
	lastRefill time.Time
	queue      []*queuedRequest
	draining   bool

	// Injectable for tests
	now   func() time.Time
	sleep func(time.Duration)
}

type queuedRequest struct {
	id         uuid.UUID
	ctx        context.Context
	fn         RequestFunc
	done       chan result
	enqueuedAt time.Time
}

type result struct {
	data interface{}
	err  error
}

func New(cfg Config) *Limiter {
	cfg = cfg.withDefaults()
	return &Limiter{
		config:     cfg,
		tokens:     float64(cfg.BurstSize),
		lastRefill: time.Now(),
		now:        time.Now,
		sleep:      time.Sleep,
	}
}

// Execute runs fn under the rate limit. If a token is available and nothing
// is queued ahead, fn runs immediately; otherwise the request joins the FIFO
// queue and blocks until the drain loop reaches it. Once accepted, a request
// runs to completion or exhausts its retry budget; it is not cancelled.
func (l *Limiter) Execute(ctx context.Context, fn RequestFunc) (interface{}, error) {
	l.mu.Lock()
	l.refill()

	if l.tokens >= 1 && len(l.queue) == 0 {
		l.tokens--
		l.mu.Unlock()
		return l.executeWithRetry(ctx, fn)
	}

	req := &queuedRequest{
		id:         uuid.New(),
		ctx:        ctx,
		fn:         fn,
		done:       make(chan result, 1),
		enqueuedAt: l.now(),
	}
	l.queue = append(l.queue, req)
	l.ensureDraining()
	l.mu.Unlock()

	res := <-req.done
	return res.data, res.err
}

// Refills tokens based on elapsed time, capped at burst size.
// Caller must hold the mutex.
func (l *Limiter) refill() {
	now := l.now()
	elapsed := now.Sub(l.lastRefill)
	l.tokens = math.Min(
		l.tokens+elapsed.Seconds()*l.config.MaxRequestsPerSecond,
		float64(l.config.BurstSize),
	)
	l.lastRefill = now
}

// Starts the drain goroutine if one isn't already running.
// Caller must hold the mutex.
func (l *Limiter) ensureDraining() {
	if l.draining {
		return
	}
	l.draining = true
	go l.drain()
}

// Consumes the queue in FIFO order, sleeping between checks when tokens
// are insufficient. Only one drain goroutine runs per limiter at a time.
func (l *Limiter) drain() {
	for {
		l.mu.Lock()
		l.refill()

		if len(l.queue) == 0 {
			l.draining = false
			l.mu.Unlock()
			return
		}

		if l.tokens < 1 {
			l.mu.Unlock()
			l.sleep(l.checkInterval())
			continue
		}

		req := l.queue[0]
		l.queue = l.queue[1:]
		l.tokens--
		l.mu.Unlock()

		data, err := l.executeWithRetry(req.ctx, req.fn)
		req.done <- result{data: data, err: err}
	}
}

func (l *Limiter) checkInterval() time.Duration {
	return time.Duration(float64(time.Second) / l.config.MaxRequestsPerSecond)
}

// Runs fn, retrying throttling (429) and server-side (5xx) failures with
// exponential backoff. Any other failure propagates immediately. After the
// retry budget is exhausted the last error is returned unwrapped.
func (l *Limiter) executeWithRetry(ctx context.Context, fn RequestFunc) (interface{}, error) {
	var lastErr error

	for retry := 0; retry <= l.config.MaxRetries; retry++ {
		if retry > 0 {
			l.sleep(l.backoffFor(retry - 1))
		}

		data, err := fn(ctx)
		if err == nil {
			return data, nil
		}

		if !l.retryable(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, lastErr
}

// Backoff delay for the given retry count: initial × multiplier^retry,
// capped at the configured maximum.
func (l *Limiter) backoffFor(retry int) time.Duration {
	delay := float64(l.config.InitialBackoff) * math.Pow(l.config.BackoffMultiplier, float64(retry))
	if delay > float64(l.config.MaxBackoff) {
		return l.config.MaxBackoff
	}
	return time.Duration(delay)
}

type statusCoder interface {
	StatusCode() int
}

func (l *Limiter) retryable(err error) bool {
	var sc statusCoder
	if errors.As(err, &sc) {
		status := sc.StatusCode()
		if status == 429 {
			return l.config.RetryOn429
		}
		return status >= 500
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "rate limit") || strings.Contains(msg, "429") {
		return l.config.RetryOn429
	}

	return false
}

// Queue observability snapshot
type QueueStats struct {
	QueueLength int     `json:"queue_length"`
	Tokens      float64 `json:"tokens"`
	Draining    bool    `json:"draining"`
}

func (l *Limiter) GetQueueStats() QueueStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	return QueueStats{
		QueueLength: len(l.queue),
		Tokens:      l.tokens,
		Draining:    l.draining,
	}
}

// Rate limit configuration snapshot
type RateLimitInfo struct {
	MaxRequestsPerSecond float64 `json:"max_requests_per_second"`
	BurstSize            int     `json:"burst_size"`
	MaxRetries           int     `json:"max_retries"`
}

func (l *Limiter) GetRateLimitInfo() RateLimitInfo {
	return RateLimitInfo{
		MaxRequestsPerSecond: l.config.MaxRequestsPerSecond,
		BurstSize:            l.config.BurstSize,
		MaxRetries:           l.config.MaxRetries,
	}
}
