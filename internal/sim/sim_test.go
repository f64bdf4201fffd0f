package sim

import (
	"context"
	"reflect"
	"strings"
	"testing"
)

func TestSimulationDeterministic(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Clients = 5
	cfg.RequestsPerClient = 50
	cfg.Workload = WorkloadHotspot

	run := func() *Report {
		s, err := New(cfg)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		r, err := s.Run(context.Background())
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return r
	}

	first := run()
	second := run()
	if !reflect.DeepEqual(first, second) {
		t.Errorf("same seed produced different reports:\n%v\n%v", first, second)
	}
}

func TestSimulationSeedChangesOutcome(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Clients = 5
	cfg.RequestsPerClient = 50
	cfg.Workload = WorkloadRandom

	s1, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r1, err := s1.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	cfg.Seed = 99
	s2, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r2, err := s2.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if reflect.DeepEqual(r1, r2) {
		t.Error("different seeds produced identical reports")
	}
}

func TestSimulationSequentialLearns(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Clients = 10
	cfg.RequestsPerClient = 100
	cfg.Workload = WorkloadSequential

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if r.Requests != 1000 {
		t.Errorf("requests = %d, want 1000", r.Requests)
	}
	if r.ServerRequests != r.Requests-r.LocalHits {
		t.Errorf("server requests = %d, want %d", r.ServerRequests, r.Requests-r.LocalHits)
	}
	if r.ServerHitRate < 0.5 {
		t.Errorf("sequential hit rate = %.3f, want >= 0.5", r.ServerHitRate)
	}
	if r.Engine.PrecacheInserts == 0 {
		t.Error("sequential workload produced no precache inserts")
	}
	if r.Patterns.Transitions == 0 {
		t.Error("no transitions learned")
	}
	if r.Engine.TimeSaved <= 0 {
		t.Error("no time saved despite cache hits")
	}
	if r.GenerationErrors != 0 {
		t.Errorf("generation errors = %d", r.GenerationErrors)
	}
}

func TestSimulationRunCompletes(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Clients = 2
	cfg.RequestsPerClient = 10
	cfg.Workload = WorkloadRandom

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if r.Requests != 20 {
		t.Errorf("requests = %d, want 20", r.Requests)
	}
	if r.Duration <= 0 {
		t.Errorf("duration = %v, want > 0", r.Duration)
	}
}

func TestSimulationInvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Clients = 0
	if _, err := New(cfg); err == nil {
		t.Error("expected error for zero clients")
	}

	cfg = NewDefaultConfig()
	cfg.RequestsPerClient = 0
	if _, err := New(cfg); err == nil {
		t.Error("expected error for zero requests")
	}

	cfg = NewDefaultConfig()
	cfg.Workload = "zipf"
	if _, err := New(cfg); err == nil {
		t.Error("expected error for unknown workload")
	}
}

func TestSimulationCancelledContext(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Clients = 2
	cfg.RequestsPerClient = 5

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Run(ctx); err == nil {
		t.Error("expected error from cancelled context")
	}
}

func TestReportString(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Clients = 2
	cfg.RequestsPerClient = 10

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	out := r.String()
	if out == "" {
		t.Fatal("empty report")
	}
	for _, want := range []string{"workload=sequential", "server cache:", "patterns:"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}
