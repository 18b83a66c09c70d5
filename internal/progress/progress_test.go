package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/withObsrvr/obsrvr-cdn-sync/internal/syncer"
)

type fakeSampler struct {
	mu   sync.Mutex
	snap syncer.Snapshot
}

func (f *fakeSampler) Snapshot() syncer.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeSampler) set(s syncer.Snapshot) {
	f.mu.Lock()
	f.snap = s
	f.mu.Unlock()
}

type captureDisplay struct {
	mu      sync.Mutex
	updates []Update
}

func (c *captureDisplay) Render(u Update) {
	c.mu.Lock()
	c.updates = append(c.updates, u)
	c.mu.Unlock()
}

func (c *captureDisplay) all() []Update {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Update(nil), c.updates...)
}

func TestUpdateDerivation(t *testing.T) {
	started := time.Now().Add(-10 * time.Second)
	snap := syncer.Snapshot{
		StartHeight:   100,
		NextHeight:    150,
		TargetHeight:  199,
		TotalChunks:   10,
		Completed:     5,
		InFlight:      3,
		AppliedBlocks: 50,
		StartedAt:     started,
	}

	r := NewReporter(&fakeSampler{snap: snap}, &captureDisplay{}, time.Second)
	r.lastSample = time.Now().Add(-time.Second)

	u := r.update(snap, time.Now())

	if u.CurrentHeight != 149 {
		t.Errorf("CurrentHeight = %d, want 149", u.CurrentHeight)
	}
	if u.TargetHeight != 199 {
		t.Errorf("TargetHeight = %d, want 199", u.TargetHeight)
	}
	if u.Percent != 50 {
		t.Errorf("Percent = %f, want 50", u.Percent)
	}
	if u.ChunksDone != 5 || u.ChunksTotal != 10 {
		t.Errorf("chunks %d/%d, want 5/10", u.ChunksDone, u.ChunksTotal)
	}
	if u.BlocksPerSecond < 40 || u.BlocksPerSecond > 60 {
		t.Errorf("BlocksPerSecond = %f, want ~50", u.BlocksPerSecond)
	}
}

func TestRateWindowResets(t *testing.T) {
	sampler := &fakeSampler{}
	r := NewReporter(sampler, &captureDisplay{}, time.Second)

	base := time.Now()
	r.lastSample = base

	snap := syncer.Snapshot{StartHeight: 1, NextHeight: 101, TargetHeight: 1000, AppliedBlocks: 100}
	u := r.update(snap, base.Add(time.Second))
	if u.BlocksPerSecond < 99 || u.BlocksPerSecond > 101 {
		t.Errorf("first window rate = %f, want ~100", u.BlocksPerSecond)
	}

	// No new blocks in the second window.
	u = r.update(snap, base.Add(2*time.Second))
	if u.BlocksPerSecond != 0 {
		t.Errorf("stalled window rate = %f, want 0", u.BlocksPerSecond)
	}
}

func TestZeroSnapshot(t *testing.T) {
	r := NewReporter(&fakeSampler{}, &captureDisplay{}, time.Second)
	r.lastSample = time.Now().Add(-time.Second)

	u := r.update(syncer.Snapshot{}, time.Now())
	if u.CurrentHeight != 0 || u.Percent != 0 || u.BlocksPerSecond != 0 {
		t.Errorf("zero snapshot produced non-zero update: %+v", u)
	}
}

func TestRunEmitsAndStops(t *testing.T) {
	sampler := &fakeSampler{}
	sampler.set(syncer.Snapshot{
		StartHeight:  1,
		NextHeight:   51,
		TargetHeight: 100,
		StartedAt:    time.Now(),
	})
	display := &captureDisplay{}
	r := NewReporter(sampler, display, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}

	updates := display.all()
	if len(updates) < 2 {
		t.Fatalf("expected several updates plus a final one, got %d", len(updates))
	}
	last := updates[len(updates)-1]
	if last.CurrentHeight != 50 {
		t.Errorf("final update height = %d, want 50", last.CurrentHeight)
	}
}
