package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"logalert/internal/domain"
)

type fakeLister struct {
	mu    sync.Mutex
	rules []domain.Rule
	byID  map[uint]domain.Rule
}

func (f *fakeLister) set(rules ...domain.Rule) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = rules
}

// setByID registers a rule visible to GetByID only, so tests can model a
// rule the reconcile listing has not picked up yet.
func (f *fakeLister) setByID(r domain.Rule) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.byID == nil {
		f.byID = make(map[uint]domain.Rule)
	}
	f.byID[r.ID] = r
}

func (f *fakeLister) GetEnabled(context.Context, int) ([]domain.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Rule(nil), f.rules...), nil
}

func (f *fakeLister) GetByID(_ context.Context, id uint) (*domain.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rules {
		if r.ID == id {
			rule := r
			return &rule, nil
		}
	}
	if r, ok := f.byID[id]; ok {
		rule := r
		return &rule, nil
	}
	return nil, errors.New("rule not found")
}

// blockingExecutor keeps each tick's done channel open until released,
// so tests can observe how many concurrency slots are held at once.
type blockingExecutor struct {
	mu      sync.Mutex
	open    []chan struct{}
	current atomic.Int64
	peak    atomic.Int64
	calls   atomic.Int64
}

func (b *blockingExecutor) Execute(context.Context, *domain.Rule, bool) (<-chan struct{}, error) {
	b.calls.Add(1)
	now := b.current.Add(1)
	for {
		peak := b.peak.Load()
		if now <= peak || b.peak.CompareAndSwap(peak, now) {
			break
		}
	}

	done := make(chan struct{})
	b.mu.Lock()
	b.open = append(b.open, done)
	b.mu.Unlock()
	return done, nil
}

func (b *blockingExecutor) releaseAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, done := range b.open {
		b.current.Add(-1)
		close(done)
	}
	b.open = nil
}

func rule(id uint) domain.Rule {
	return domain.Rule{ID: id, Name: "r", IndexPattern: "app-*", Interval: 60, Enabled: true, WebhookURL: "http://hook"}
}

func TestRunOnceHoldsSlotUntilDoneCloses(t *testing.T) {
	t.Parallel()

	exec := &blockingExecutor{}
	s := NewScheduler(SchedulerConfig{
		Rules:          &fakeLister{},
		Executor:       exec,
		MaxConcurrency: 2,
		DrainTimeout:   time.Second,
	})

	r1, r2, r3 := rule(1), rule(2), rule(3)
	s.runOnce(s.ctx, &r1, true)
	s.runOnce(s.ctx, &r2, true)

	// Both slots are held by open done channels, so the third tick must
	// block until a slot frees.
	third := make(chan struct{})
	go func() {
		s.runOnce(s.ctx, &r3, true)
		close(third)
	}()

	select {
	case <-third:
		t.Fatalf("third tick ran past the concurrency cap")
	case <-time.After(100 * time.Millisecond):
	}

	exec.releaseAll()
	select {
	case <-third:
	case <-time.After(2 * time.Second):
		t.Fatalf("third tick never acquired a freed slot")
	}

	if peak := exec.peak.Load(); peak > 2 {
		t.Fatalf("expected at most 2 concurrent evaluations, saw %d", peak)
	}

	exec.releaseAll()
	s.Stop()
}

func TestSyncRulesReconcilesLoops(t *testing.T) {
	t.Parallel()

	lister := &fakeLister{}
	lister.set(rule(1), rule(2))

	exec := &blockingExecutor{}
	s := NewScheduler(SchedulerConfig{
		Rules:        lister,
		Executor:     exec,
		DrainTimeout: time.Second,
	})
	defer func() {
		exec.releaseAll()
		s.Stop()
	}()

	s.syncRules()
	s.mu.RLock()
	running := len(s.runningRules)
	s.mu.RUnlock()
	if running != 2 {
		t.Fatalf("expected 2 rule loops, got %d", running)
	}

	lister.set(rule(1))
	s.syncRules()
	s.mu.RLock()
	_, hasOne := s.runningRules[1]
	_, hasTwo := s.runningRules[2]
	s.mu.RUnlock()
	if !hasOne || hasTwo {
		t.Fatalf("expected rule 2 loop stopped, got rule1=%v rule2=%v", hasOne, hasTwo)
	}
}

func TestTriggerRuleExecutesRuleWithoutLoop(t *testing.T) {
	t.Parallel()

	// GetEnabled does not list the rule yet, so no loop starts and the
	// trigger must fall back to direct execution.
	lister := &fakeLister{}
	lister.setByID(rule(5))

	exec := &blockingExecutor{}
	s := NewScheduler(SchedulerConfig{
		Rules:        lister,
		Executor:     exec,
		DrainTimeout: time.Second,
	})

	s.Start()
	defer func() {
		exec.releaseAll()
		s.Stop()
	}()

	s.TriggerRule(5)

	deadline := time.Now().Add(2 * time.Second)
	for exec.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("trigger never executed the rule")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTriggerWhileLoopRunsStaysSerial(t *testing.T) {
	t.Parallel()

	lister := &fakeLister{}
	lister.set(rule(1))

	exec := &blockingExecutor{}
	s := NewScheduler(SchedulerConfig{
		Rules:          lister,
		Executor:       exec,
		MaxConcurrency: 10,
		DrainTimeout:   time.Second,
	})

	s.Start()
	defer func() {
		exec.releaseAll()
		s.Stop()
	}()

	// Wait for the loop's own first evaluation; its done channel stays
	// open, so the evaluation is still in flight.
	deadline := time.Now().Add(2 * time.Second)
	for exec.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("rule loop never executed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// A trigger for a rule whose loop is running must not start a second
	// concurrent evaluation of it.
	s.TriggerRule(1)
	time.Sleep(200 * time.Millisecond)

	if calls := exec.calls.Load(); calls != 1 {
		t.Fatalf("expected a single in-flight evaluation, got %d", calls)
	}
	if peak := exec.peak.Load(); peak > 1 {
		t.Fatalf("expected serial execution per rule, saw %d concurrent", peak)
	}
}

func TestStopDrainIsBounded(t *testing.T) {
	t.Parallel()

	exec := &blockingExecutor{}
	s := NewScheduler(SchedulerConfig{
		Rules:        &fakeLister{},
		Executor:     exec,
		DrainTimeout: 100 * time.Millisecond,
	})

	r := rule(1)
	s.runOnce(s.ctx, &r, true)

	// The done channel is never closed, so Stop must give up at the
	// drain timeout instead of hanging.
	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("Stop hung past the drain timeout")
	}
	exec.releaseAll()
}

func TestTriggerQueueOverflowDoesNotBlock(t *testing.T) {
	t.Parallel()

	s := NewScheduler(SchedulerConfig{
		Rules:    &fakeLister{},
		Executor: &blockingExecutor{},
	})

	// Nothing drains triggerChan before Start, so overfilling it must
	// fall into the non-blocking default branch.
	finished := make(chan struct{})
	go func() {
		for i := 0; i < triggerBuffer+10; i++ {
			s.TriggerRule(uint(i))
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatalf("TriggerRule blocked on a full queue")
	}
	s.cancel()
}
