package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	env := newTestEnv(t, WithMetrics(m))

	if _, err := env.e.CreateWorkflow(ctx, "W", "A", []string{"B"}); err != nil {
		t.Fatal(err)
	}
	env.upload(t, "W", "A", "A", true)
	env.upload(t, "W", "A", "A", false)

	// not approved yet
	if _, err := env.e.Run(ctx, "W", "A", []string{"B"}); err == nil {
		t.Fatal("expected error")
	}
	env.approve(t, "W", "A", "B", false)
	env.approve(t, "W", "A", "B", true)
	if _, err := env.e.Run(ctx, "W", "A", []string{"B"}); err != nil {
		t.Fatal(err)
	}

	for _, test := range []struct {
		c    prometheus.Collector
		want float64
	}{
		{m.runsTotal.WithLabelValues(OutcomeAborted), 1},
		{m.runsTotal.WithLabelValues(OutcomeCompleted), 1},
		{m.runsTotal.WithLabelValues(OutcomeFailed), 0},
		{m.approvals.WithLabelValues("approved"), 1},
		{m.approvals.WithLabelValues("denied"), 1},
		{m.droppedRows.WithLabelValues("dataset"), 1},
		{m.droppedRows.WithLabelValues("key"), 0},
	} {
		if have := testutil.ToFloat64(test.c); have != test.want {
			t.Errorf("have: %v, want: %v", have, test.want)
		}
	}

	if have, want := testutil.CollectAndCount(m.runDuration), 1; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.observeRun(OutcomeCompleted, time.Now(), true)
	m.observeDropped(1, 1)
	m.observeApproval("approved")
}

func TestRunLocks(t *testing.T) {
	l := newRunLocks()
	key := runKey("A", "W")

	var wg sync.WaitGroup
	var mu sync.Mutex
	var won int
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.tryLock(key) {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if have, want := won, 1; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}

	if !l.tryLock(runKey("A", "X")) {
		t.Error("other workflow should not be locked")
	}
	l.unlock(key)
	if !l.tryLock(key) {
		t.Error("expected lock after unlock")
	}
}
