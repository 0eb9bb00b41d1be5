package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hotdash/integration-gateway/internal/models"
	"github.com/hotdash/integration-gateway/internal/repository"
)

// Repository is the storage the trail appends to. The production
// implementation is repository.AuditRepository; tests use an in-memory one.
type Repository interface {
	Insert(ctx context.Context, event *models.AuditEvent) error
	LastEventHash(ctx context.Context) (string, error)
	List(ctx context.Context, filter repository.AuditFilter) ([]models.AuditEvent, error)
	ListAsc(ctx context.Context, filter repository.AuditFilter) ([]models.AuditEvent, error)
}

// Entry is what callers provide; hashing and chaining happen here
type Entry struct {
	EventType  string
	ActorID    string
	ActorRole  string
	Resource   string
	ResourceID string
	Action     string
	Metadata   map[string]interface{}
	IPAddress  string
	UserAgent  string
}

// Trail is the append-only, hash-chained audit log. Log never returns an
// error: a broken audit sink must not fail the primary operation.
//
// The read-last-hash-then-insert sequence is serialized with an in-process
// mutex. Multiple gateway instances writing to the same table could still
// interleave and break strict chain contiguity; that remains a known gap
// for multi-instance deployments.
type Trail struct {
	repo Repository

	mu sync.Mutex

	asyncCh chan Entry
	wg      sync.WaitGroup
}

func NewTrail(repo Repository) *Trail {
	return &Trail{repo: repo}
}

// Log appends one event, chaining it to the most recent one. Best-effort:
// failures are logged and swallowed.
func (t *Trail) Log(ctx context.Context, entry Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	previousHash, err := t.repo.LastEventHash(ctx)
	if err != nil {
		log.Printf("[audit] failed to read last hash: %v", err)
		return
	}

	metadata := []byte("{}")
	if entry.Metadata != nil {
		if encoded, err := json.Marshal(entry.Metadata); err == nil {
			metadata = encoded
		}
	}

	event := &models.AuditEvent{
		EventType:    entry.EventType,
		ActorID:      entry.ActorID,
		ActorRole:    entry.ActorRole,
		Resource:     entry.Resource,
		ResourceID:   entry.ResourceID,
		Action:       entry.Action,
		Metadata:     metadata,
		IPAddress:    entry.IPAddress,
		UserAgent:    entry.UserAgent,
		PreviousHash: previousHash,
		// Postgres stores microseconds; truncate so the stored timestamp
		// rehashes to the same value during verification
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	event.EventHash = ComputeEventHash(event)

	if err := t.repo.Insert(ctx, event); err != nil {
		log.Printf("[audit] failed to append %s event: %v", event.EventType, err)
		return
	}

	log.Printf("[audit] logged %s by %s (hash: %.8s...)", event.EventType, event.ActorID, event.EventHash)
}

// LogEvent is the loose-signature hook used by the integration manager
// and the webhook guards
func (t *Trail) LogEvent(ctx context.Context, eventType, actorID, resource, action string, metadata map[string]interface{}) {
	t.Log(ctx, Entry{
		EventType: eventType,
		ActorID:   actorID,
		ActorRole: "system",
		Resource:  resource,
		Action:    action,
		Metadata:  metadata,
	})
}

// StartAsync switches hot paths to a buffered channel drained by a single
// background writer, so audit appends never block request handling
func (t *Trail) StartAsync(buffer int) {
	if buffer <= 0 {
		buffer = 256
	}
	t.asyncCh = make(chan Entry, buffer)
	t.wg.Add(1)

	go func() {
		defer t.wg.Done()
		for entry := range t.asyncCh {
			t.Log(context.Background(), entry)
		}
	}()
}

// LogAsync enqueues an entry for the background writer, dropping it when
// the buffer is full or async mode was never started
func (t *Trail) LogAsync(entry Entry) {
	if t.asyncCh == nil {
		return
	}
	select {
	case t.asyncCh <- entry:
	default:
		log.Printf("[audit] buffer full, dropping %s event", entry.EventType)
	}
}

// Stop drains the async buffer and waits for the writer to finish
func (t *Trail) Stop() {
	if t.asyncCh == nil {
		return
	}
	close(t.asyncCh)
	t.wg.Wait()
	t.asyncCh = nil
}

// Query returns events newest-first matching the filter
func (t *Trail) Query(ctx context.Context, filter repository.AuditFilter) ([]models.AuditEvent, error) {
	return t.repo.List(ctx, filter)
}

// Result of a chain verification walk
type VerifyResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// VerifyIntegrity walks the full chain in insertion order, recomputing
// every event's hash and checking linkage. All mismatches are collected
// rather than aborting on the first, so one corruption can't mask others.
func (t *Trail) VerifyIntegrity(ctx context.Context) (VerifyResult, error) {
	events, err := t.repo.ListAsc(ctx, repository.AuditFilter{})
	if err != nil {
		return VerifyResult{}, err
	}

	errors := []string{}
	previousHash := models.GenesisHash

	for _, event := range events {
		if event.PreviousHash != previousHash {
			errors = append(errors, fmt.Sprintf(
				"event %d: previous hash mismatch (expected %s, got %s)",
				event.ID, previousHash, event.PreviousHash))
		}

		computed := ComputeEventHash(&event)
		if computed != event.EventHash {
			errors = append(errors, fmt.Sprintf(
				"event %d: hash mismatch (computed %s, stored %s)",
				event.ID, computed, event.EventHash))
		}

		previousHash = event.EventHash
	}

	return VerifyResult{Valid: len(errors) == 0, Errors: errors}, nil
}

// Compliance report over a time window
type ComplianceReport struct {
	Period struct {
		Start time.Time `json:"start"`
		End   time.Time `json:"end"`
	} `json:"period"`
	TotalEvents int             `json:"total_events"`
	EventCounts map[string]int  `json:"event_counts"`
	TopActors   []ActorActivity `json:"top_actors"`
	Integrity   VerifyResult    `json:"integrity"`
}

type ActorActivity struct {
	ActorID    string    `json:"actor_id"`
	ActorRole  string    `json:"actor_role"`
	EventCount int       `json:"event_count"`
	FirstEvent time.Time `json:"first_event"`
	LastEvent  time.Time `json:"last_event"`
}

// GenerateComplianceReport aggregates event counts per type and per actor
// over [start, end] and includes a full-chain integrity check
func (t *Trail) GenerateComplianceReport(ctx context.Context, start, end time.Time) (*ComplianceReport, error) {
	events, err := t.repo.ListAsc(ctx, repository.AuditFilter{Start: &start, End: &end})
	if err != nil {
		return nil, err
	}

	report := &ComplianceReport{
		TotalEvents: len(events),
		EventCounts: make(map[string]int),
	}
	report.Period.Start = start
	report.Period.End = end

	actors := make(map[string]*ActorActivity)
	for _, event := range events {
		report.EventCounts[event.EventType]++

		activity, ok := actors[event.ActorID]
		if !ok {
			activity = &ActorActivity{
				ActorID:    event.ActorID,
				ActorRole:  event.ActorRole,
				FirstEvent: event.CreatedAt,
			}
			actors[event.ActorID] = activity
		}
		activity.EventCount++
		activity.LastEvent = event.CreatedAt
	}

	for _, activity := range actors {
		report.TopActors = append(report.TopActors, *activity)
	}

	integrity, err := t.VerifyIntegrity(ctx)
	if err != nil {
		return nil, err
	}
	report.Integrity = integrity

	return report, nil
}

// ComputeEventHash covers the fields that define an event plus the
// previous event's hash, forming the chain link
func ComputeEventHash(event *models.AuditEvent) string {
	payload, _ := json.Marshal(struct {
		EventType    string `json:"eventType"`
		ActorID      string `json:"actorId"`
		Resource     string `json:"resource"`
		ResourceID   string `json:"resourceId"`
		Action       string `json:"action"`
		Timestamp    string `json:"timestamp"`
		PreviousHash string `json:"previousHash"`
	}{
		EventType:    event.EventType,
		ActorID:      event.ActorID,
		Resource:     event.Resource,
		ResourceID:   event.ResourceID,
		Action:       event.Action,
		Timestamp:    event.CreatedAt.UTC().Format(time.RFC3339Nano),
		PreviousHash: event.PreviousHash,
	})

	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
