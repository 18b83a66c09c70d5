// Package progress periodically reports sync throughput. Reporting is
// lossy by design: a sample is read, rendered, and forgotten, so a slow
// display can never back-pressure the pipeline.
package progress

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/withObsrvr/obsrvr-cdn-sync/internal/logging"
	"github.com/withObsrvr/obsrvr-cdn-sync/internal/metrics"
	"github.com/withObsrvr/obsrvr-cdn-sync/internal/syncer"
)

const defaultInterval = time.Second

// Sampler yields the current pipeline state. *syncer.Syncer satisfies it.
type Sampler interface {
	Snapshot() syncer.Snapshot
}

// Update is one rendered progress sample.
type Update struct {
	CurrentHeight   uint32
	TargetHeight    uint32
	Percent         float64
	BlocksPerSecond float64
	ChunksDone      int
	ChunksTotal     int
	InFlight        int
	Elapsed         time.Duration
}

// Display renders updates. Implementations must not block for long; a
// missed tick drops the sample rather than queueing it.
type Display interface {
	Render(u Update)
}

// LogDisplay writes updates through the structured logger.
type LogDisplay struct {
	log *slog.Logger
}

func NewLogDisplay() *LogDisplay {
	return &LogDisplay{log: logging.Component("progress")}
}

func (d *LogDisplay) Render(u Update) {
	d.log.Info("sync progress",
		"height", u.CurrentHeight,
		"target", u.TargetHeight,
		"percent", fmt.Sprintf("%.1f", u.Percent),
		"blocks_per_sec", fmt.Sprintf("%.1f", u.BlocksPerSecond),
		"chunks", fmt.Sprintf("%d/%d", u.ChunksDone, u.ChunksTotal),
		"in_flight", u.InFlight,
		"elapsed", u.Elapsed.Round(time.Second).String(),
	)
}

// Reporter samples a syncer on a fixed interval and renders the deltas.
type Reporter struct {
	sampler  Sampler
	display  Display
	interval time.Duration

	lastBlocks uint64
	lastSample time.Time
}

// NewReporter creates a reporter. A nil display logs; a zero interval
// means one second.
func NewReporter(s Sampler, d Display, interval time.Duration) *Reporter {
	if d == nil {
		d = NewLogDisplay()
	}
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Reporter{sampler: s, display: d, interval: interval}
}

// Run emits progress updates until the context is cancelled, then renders
// one final sample so the last state is always visible.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.lastSample = time.Now()

	for {
		select {
		case <-ctx.Done():
			r.report(time.Now())
			return
		case now := <-ticker.C:
			r.report(now)
		}
	}
}

func (r *Reporter) report(now time.Time) {
	snap := r.sampler.Snapshot()
	u := r.update(snap, now)
	r.display.Render(u)
	if m := metrics.Get(); m != nil {
		m.BlocksPerSecond.Set(u.BlocksPerSecond)
	}
}

// update derives a sample from a snapshot. The rate covers only the window
// since the previous sample, so it tracks current throughput rather than
// the run average.
func (r *Reporter) update(snap syncer.Snapshot, now time.Time) Update {
	u := Update{
		TargetHeight: snap.TargetHeight,
		ChunksDone:   snap.Completed,
		ChunksTotal:  snap.TotalChunks,
		InFlight:     snap.InFlight,
	}
	if snap.NextHeight > 0 {
		u.CurrentHeight = snap.NextHeight - 1
	}
	if !snap.StartedAt.IsZero() {
		u.Elapsed = now.Sub(snap.StartedAt)
	}

	if snap.TargetHeight >= snap.StartHeight && snap.TargetHeight > 0 {
		total := uint64(snap.TargetHeight-snap.StartHeight) + 1
		done := uint64(0)
		if snap.NextHeight > snap.StartHeight {
			done = uint64(snap.NextHeight - snap.StartHeight)
		}
		u.Percent = float64(done) / float64(total) * 100
	}

	window := now.Sub(r.lastSample)
	if window > 0 && snap.AppliedBlocks >= r.lastBlocks {
		u.BlocksPerSecond = float64(snap.AppliedBlocks-r.lastBlocks) / window.Seconds()
	}
	r.lastBlocks = snap.AppliedBlocks
	r.lastSample = now

	return u
}
