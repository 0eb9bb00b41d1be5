package audit

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hotdash/integration-gateway/internal/models"
	"github.com/hotdash/integration-gateway/internal/repository"
)

// In-memory Repository used by the tests below
type memoryRepo struct {
	mu     sync.Mutex
	events []models.AuditEvent
}

func (r *memoryRepo) Insert(_ context.Context, event *models.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	event.ID = uint(len(r.events) + 1)
	r.events = append(r.events, *event)
	return nil
}

func (r *memoryRepo) LastEventHash(_ context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return models.GenesisHash, nil
	}
	return r.events[len(r.events)-1].EventHash, nil
}

func (r *memoryRepo) matches(event models.AuditEvent, filter repository.AuditFilter) bool {
	if filter.ActorID != "" && event.ActorID != filter.ActorID {
		return false
	}
	if filter.EventType != "" && event.EventType != filter.EventType {
		return false
	}
	if filter.Resource != "" && event.Resource != filter.Resource {
		return false
	}
	if filter.Start != nil && event.CreatedAt.Before(*filter.Start) {
		return false
	}
	if filter.End != nil && event.CreatedAt.After(*filter.End) {
		return false
	}
	return true
}

func (r *memoryRepo) ListAsc(_ context.Context, filter repository.AuditFilter) ([]models.AuditEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.AuditEvent{}
	for _, event := range r.events {
		if r.matches(event, filter) {
			out = append(out, event)
		}
	}
	return out, nil
}

func (r *memoryRepo) List(ctx context.Context, filter repository.AuditFilter) ([]models.AuditEvent, error) {
	asc, err := r.ListAsc(ctx, filter)
	if err != nil {
		return nil, err
	}
	desc := make([]models.AuditEvent, 0, len(asc))
	for i := len(asc) - 1; i >= 0; i-- {
		desc = append(desc, asc[i])
	}
	if filter.Limit > 0 && len(desc) > filter.Limit {
		desc = desc[:filter.Limit]
	}
	return desc, nil
}

// Flips one stored field after the fact, simulating tampering
func (r *memoryRepo) tamper(index int, mutate func(*models.AuditEvent)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mutate(&r.events[index])
}

func logN(t *testing.T, trail *Trail, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		trail.Log(context.Background(), Entry{
			EventType:  models.AuditUserLogin,
			ActorID:    "admin@example.com",
			ActorRole:  "admin",
			Resource:   "session",
			ResourceID: "s-1",
			Action:     "login",
		})
	}
}

func TestLogChainsEvents(t *testing.T) {
	repo := &memoryRepo{}
	trail := NewTrail(repo)

	logN(t, trail, 3)

	if len(repo.events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(repo.events))
	}

	if repo.events[0].PreviousHash != models.GenesisHash {
		t.Errorf("first event should chain to %s, got %s", models.GenesisHash, repo.events[0].PreviousHash)
	}
	for i := 1; i < len(repo.events); i++ {
		if repo.events[i].PreviousHash != repo.events[i-1].EventHash {
			t.Errorf("event %d previous hash does not match event %d hash", i+1, i)
		}
	}

	for i, event := range repo.events {
		if event.EventHash != ComputeEventHash(&event) {
			t.Errorf("event %d stored hash does not match recomputation", i+1)
		}
	}
}

func TestLogDefaultsMetadata(t *testing.T) {
	repo := &memoryRepo{}
	trail := NewTrail(repo)

	trail.Log(context.Background(), Entry{EventType: "test", ActorID: "a"})
	trail.Log(context.Background(), Entry{
		EventType: "test",
		ActorID:   "a",
		Metadata:  map[string]interface{}{"reason": "check"},
	})

	if string(repo.events[0].Metadata) != "{}" {
		t.Errorf("expected empty metadata object, got %s", repo.events[0].Metadata)
	}
	if !strings.Contains(string(repo.events[1].Metadata), `"reason":"check"`) {
		t.Errorf("expected metadata encoded, got %s", repo.events[1].Metadata)
	}
}

func TestVerifyIntegrityCleanChain(t *testing.T) {
	repo := &memoryRepo{}
	trail := NewTrail(repo)
	logN(t, trail, 5)

	result, err := trail.VerifyIntegrity(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected clean chain, got errors: %v", result.Errors)
	}
}

func TestVerifyIntegrityDetectsTamperedHash(t *testing.T) {
	repo := &memoryRepo{}
	trail := NewTrail(repo)
	logN(t, trail, 5)

	// Corrupt the third event's stored hash. Its own recomputation fails
	// and the fourth event's chain link no longer matches.
	repo.tamper(2, func(e *models.AuditEvent) {
		e.EventHash = "deadbeef"
	})

	result, err := trail.VerifyIntegrity(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Valid {
		t.Fatal("expected verification to fail")
	}
	if len(result.Errors) != 2 {
		t.Fatalf("expected 2 errors (hash at event 3, link at event 4), got %d: %v",
			len(result.Errors), result.Errors)
	}
	if !strings.Contains(result.Errors[0], "event 3") {
		t.Errorf("first error should point at event 3: %s", result.Errors[0])
	}
	if !strings.Contains(result.Errors[1], "event 4") {
		t.Errorf("second error should point at event 4: %s", result.Errors[1])
	}
}

func TestVerifyIntegrityDetectsTamperedField(t *testing.T) {
	repo := &memoryRepo{}
	trail := NewTrail(repo)
	logN(t, trail, 3)

	// Rewriting a covered field invalidates the stored hash
	repo.tamper(1, func(e *models.AuditEvent) {
		e.ActorID = "attacker@example.com"
	})

	result, _ := trail.VerifyIntegrity(context.Background())
	if result.Valid {
		t.Fatal("expected verification to fail after field rewrite")
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected 1 error, got %d: %v", len(result.Errors), result.Errors)
	}
	if !strings.Contains(result.Errors[0], "event 2") {
		t.Errorf("error should point at event 2: %s", result.Errors[0])
	}
}

func TestVerifyIntegrityCollectsAllMismatches(t *testing.T) {
	repo := &memoryRepo{}
	trail := NewTrail(repo)
	logN(t, trail, 6)

	repo.tamper(0, func(e *models.AuditEvent) { e.Action = "x" })
	repo.tamper(4, func(e *models.AuditEvent) { e.Action = "y" })

	result, _ := trail.VerifyIntegrity(context.Background())
	if result.Valid {
		t.Fatal("expected verification to fail")
	}
	// One corruption must not mask the other
	if len(result.Errors) != 2 {
		t.Fatalf("expected both tampered events reported, got %d: %v",
			len(result.Errors), result.Errors)
	}
}

func TestLogAsyncDrainsOnStop(t *testing.T) {
	repo := &memoryRepo{}
	trail := NewTrail(repo)
	trail.StartAsync(16)

	for i := 0; i < 5; i++ {
		trail.LogAsync(Entry{EventType: models.AuditWebhookRejected, ActorID: "10.0.0.1"})
	}
	trail.Stop()

	if len(repo.events) != 5 {
		t.Fatalf("expected 5 events after drain, got %d", len(repo.events))
	}

	result, _ := trail.VerifyIntegrity(context.Background())
	if !result.Valid {
		t.Fatalf("expected a clean chain from the async writer, got %v", result.Errors)
	}
}

func TestLogAsyncWithoutStartIsDropped(t *testing.T) {
	repo := &memoryRepo{}
	trail := NewTrail(repo)

	trail.LogAsync(Entry{EventType: "test"})

	if len(repo.events) != 0 {
		t.Fatalf("expected no events without a running writer, got %d", len(repo.events))
	}
}

func TestGenerateComplianceReport(t *testing.T) {
	repo := &memoryRepo{}
	trail := NewTrail(repo)

	trail.Log(context.Background(), Entry{EventType: models.AuditUserLogin, ActorID: "alice", ActorRole: "admin"})
	trail.Log(context.Background(), Entry{EventType: models.AuditUserLogin, ActorID: "alice", ActorRole: "admin"})
	trail.Log(context.Background(), Entry{EventType: models.AuditCircuitOpened, ActorID: "system", ActorRole: "system"})

	start := time.Now().UTC().Add(-time.Hour)
	end := time.Now().UTC().Add(time.Hour)

	report, err := trail.GenerateComplianceReport(context.Background(), start, end)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.TotalEvents != 3 {
		t.Errorf("expected 3 events, got %d", report.TotalEvents)
	}
	if report.EventCounts[models.AuditUserLogin] != 2 {
		t.Errorf("expected 2 login events, got %d", report.EventCounts[models.AuditUserLogin])
	}
	if report.EventCounts[models.AuditCircuitOpened] != 1 {
		t.Errorf("expected 1 circuit event, got %d", report.EventCounts[models.AuditCircuitOpened])
	}
	if len(report.TopActors) != 2 {
		t.Errorf("expected 2 actors, got %d", len(report.TopActors))
	}
	if !report.Integrity.Valid {
		t.Errorf("expected intact chain in report, got %v", report.Integrity.Errors)
	}

	for _, actor := range report.TopActors {
		if actor.ActorID == "alice" && actor.EventCount != 2 {
			t.Errorf("expected alice with 2 events, got %d", actor.EventCount)
		}
	}
}

func TestComplianceReportWindowExcludesOutsideEvents(t *testing.T) {
	repo := &memoryRepo{}
	trail := NewTrail(repo)
	logN(t, trail, 2)

	// A window entirely in the past sees nothing
	end := time.Now().UTC().Add(-24 * time.Hour)
	start := end.Add(-24 * time.Hour)

	report, err := trail.GenerateComplianceReport(context.Background(), start, end)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.TotalEvents != 0 {
		t.Errorf("expected no events in a past window, got %d", report.TotalEvents)
	}
}

func TestQueryNewestFirst(t *testing.T) {
	repo := &memoryRepo{}
	trail := NewTrail(repo)

	trail.Log(context.Background(), Entry{EventType: "first", ActorID: "a"})
	trail.Log(context.Background(), Entry{EventType: "second", ActorID: "a"})

	events, err := trail.Query(context.Background(), repository.AuditFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].EventType != "second" {
		t.Errorf("expected newest first, got %s", events[0].EventType)
	}
}
