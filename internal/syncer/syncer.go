// Package syncer drives the CDN fast-sync pipeline: a dispatcher feeds
// chunk descriptors to a bounded worker pool for fetch+decode, and a
// single sequencer restores strict height order before blocks reach the
// ledger. The sequencer is the only goroutine that touches the applier,
// so ledger application is never concurrent.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/withObsrvr/obsrvr-cdn-sync/internal/checkpoint"
	"github.com/withObsrvr/obsrvr-cdn-sync/internal/chunk"
	"github.com/withObsrvr/obsrvr-cdn-sync/internal/codec"
	"github.com/withObsrvr/obsrvr-cdn-sync/internal/ledger"
	"github.com/withObsrvr/obsrvr-cdn-sync/internal/logging"
	"github.com/withObsrvr/obsrvr-cdn-sync/internal/metrics"
	"github.com/withObsrvr/obsrvr-cdn-sync/internal/source"
)

// Config parameterizes one sync run.
type Config struct {
	Network        string
	SourceLocation string // checkpoint identity, e.g. the CDN base URL
	StartHeight    uint32
	TargetHeight   uint32
	ChunkSize      uint32
	MaxConcurrency int // 0 = available parallelism
	QueueSize      int // 0 = 2x workers
}

// Syncer owns the pipeline and its shared state.
type Syncer struct {
	cfg    Config
	src    source.ChunkSource
	dec    *codec.Decoder
	ledger ledger.Ledger
	cp     checkpoint.Manager
	log    *slog.Logger

	applier *ledger.Applier

	workQueue  chan Task
	resultChan chan Result
	wg         sync.WaitGroup

	mu    sync.Mutex
	state Snapshot
}

// New creates a syncer. cp may be nil to disable checkpointing.
func New(cfg Config, src source.ChunkSource, dec *codec.Decoder, l ledger.Ledger, cp checkpoint.Manager) *Syncer {
	return &Syncer{
		cfg:    cfg,
		src:    src,
		dec:    dec,
		ledger: l,
		cp:     cp,
		log:    logging.Component("syncer"),
	}
}

// Snapshot returns a copy of the pipeline state for observers.
func (s *Syncer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run executes the sync and returns the final applied height. On a
// terminal error the ledger keeps every block applied so far; the caller
// can re-invoke with an updated start height or fall back to peer sync.
func (s *Syncer) Run(ctx context.Context) (uint32, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := s.resolveStart(ctx)
	if start > s.cfg.TargetHeight {
		s.log.Info("ledger already at or past target",
			"applied_height", start-1,
			"target_height", s.cfg.TargetHeight,
		)
		return start - 1, nil
	}

	plan := chunk.Plan(start, s.cfg.TargetHeight, s.cfg.ChunkSize)
	s.applier = ledger.NewApplier(s.ledger, start)

	workers := s.cfg.MaxConcurrency
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	queueSize := s.cfg.QueueSize
	if queueSize < 1 {
		queueSize = workers * 2
	}
	s.workQueue = make(chan Task, queueSize)
	s.resultChan = make(chan Result, queueSize)

	s.mu.Lock()
	s.state = Snapshot{
		StartHeight:  start,
		NextHeight:   start,
		TargetHeight: s.cfg.TargetHeight,
		TotalChunks:  len(plan),
		StartedAt:    time.Now(),
	}
	s.mu.Unlock()

	s.log.Info("starting cdn sync",
		"network", s.cfg.Network,
		"start_height", start,
		"target_height", s.cfg.TargetHeight,
		"chunks", len(plan),
		"chunk_size", s.cfg.ChunkSize,
		"workers", workers,
	)

	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.workerLoop(ctx, i)
	}

	go s.dispatcherLoop(ctx, plan)

	go func() {
		s.wg.Wait()
		close(s.resultChan)
	}()

	if err := s.sequencerLoop(ctx, plan); err != nil {
		cancel()
		s.mu.Lock()
		s.state.Failed = true
		applied := s.state.NextHeight - 1
		s.mu.Unlock()
		s.wg.Wait()
		return applied, err
	}

	elapsed := time.Since(s.Snapshot().StartedAt)
	s.log.Info("cdn sync complete",
		"applied_height", s.cfg.TargetHeight,
		"chunks", len(plan),
		"duration", elapsed.String(),
	)
	return s.cfg.TargetHeight, nil
}

// resolveStart picks the effective first height: the configured start,
// bumped past the ledger tip and past a matching checkpoint. Blocks below
// the ledger tip cannot be re-applied.
func (s *Syncer) resolveStart(ctx context.Context) uint32 {
	start := s.cfg.StartHeight

	if tip := s.ledger.LastHeight(); tip+1 > start {
		s.log.Info("start height adjusted to ledger tip", "configured", start, "tip", tip)
		start = tip + 1
	}

	if s.cp == nil {
		return start
	}
	cp, err := s.cp.Load(ctx)
	if err != nil {
		if !errors.Is(err, checkpoint.ErrNoCheckpoint) {
			s.log.Warn("failed to load checkpoint", "error", err)
		}
		return start
	}
	if !cp.Matches(s.cfg.Network, s.cfg.SourceLocation) {
		s.log.Info("checkpoint doesn't match config, ignoring")
		return start
	}
	if cp.LastAppliedHeight+1 > start {
		s.log.Info("resuming from checkpoint", "start_height", cp.LastAppliedHeight+1)
		start = cp.LastAppliedHeight + 1
	}
	return start
}

// dispatcherLoop sends chunk tasks to workers.
func (s *Syncer) dispatcherLoop(ctx context.Context, plan []chunk.Descriptor) {
	defer close(s.workQueue)

	for _, d := range plan {
		select {
		case <-ctx.Done():
			return
		case s.workQueue <- Task{Desc: d}:
		}
	}
}

// workerLoop processes chunk tasks until the queue closes or the run is
// cancelled.
func (s *Syncer) workerLoop(ctx context.Context, workerID int) {
	defer s.wg.Done()

	log := logging.WorkerLogger(workerID)
	log.Debug("worker started")
	defer log.Debug("worker stopped")

	for task := range s.workQueue {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.trackInFlight(1)
		res := s.processTask(ctx, workerID, task)
		s.trackInFlight(-1)

		select {
		case s.resultChan <- res:
		case <-ctx.Done():
			return
		}
	}
}

// processTask fetches and decodes one chunk. It never touches the applier;
// ordering is the sequencer's job.
func (s *Syncer) processTask(ctx context.Context, workerID int, task Task) Result {
	correlationID := uuid.NewString()
	log := logging.ChunkLogger(correlationID, s.cfg.Network, task.Desc.Start, task.Desc.End).
		With("worker_id", workerID)

	fetchStart := time.Now()
	payload, err := s.src.Fetch(ctx, task.Desc)
	if err != nil {
		if m := metrics.Get(); m != nil {
			m.ChunksFailed.Inc()
		}
		return Result{Desc: task.Desc, Err: err}
	}
	if m := metrics.Get(); m != nil {
		m.FetchDuration.Observe(time.Since(fetchStart).Seconds())
		m.ChunkBytes.Observe(float64(len(payload)))
	}

	decodeStart := time.Now()
	decoded, err := s.dec.Decode(payload, task.Desc)
	if err != nil {
		if m := metrics.Get(); m != nil {
			m.DecodeFailures.Inc()
			m.ChunksFailed.Inc()
		}
		return Result{Desc: task.Desc, Err: err}
	}
	if m := metrics.Get(); m != nil {
		m.DecodeDuration.Observe(time.Since(decodeStart).Seconds())
		m.ChunksFetched.Inc()
	}

	log.Debug("chunk ready",
		"blocks", len(decoded.Blocks),
		"bytes", len(payload),
		"duration_ms", time.Since(fetchStart).Milliseconds(),
	)
	return Result{Desc: task.Desc, Chunk: decoded}
}

// sequencerLoop commits chunks in height order. Out-of-order completions
// are buffered in pending, keyed by plan index, so memory stays bounded by
// the concurrency window rather than the total range.
func (s *Syncer) sequencerLoop(ctx context.Context, plan []chunk.Descriptor) error {
	if len(plan) == 0 {
		return nil
	}
	nextIndex := plan[0].Index
	lastIndex := plan[len(plan)-1].Index
	pending := make(map[int64]*Result)

	for nextIndex <= lastIndex {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case res, ok := <-s.resultChan:
			if !ok {
				if err := ctx.Err(); err != nil {
					return err
				}
				return fmt.Errorf("pipeline closed before chunk %d was sequenced", nextIndex)
			}
			if res.Err != nil {
				return fmt.Errorf("chunk %d-%d: %w", res.Desc.Start, res.Desc.End, res.Err)
			}
			if res.Desc.Index < nextIndex {
				// Each descriptor is dispatched exactly once; a second
				// delivery below the frontier is an internal bug.
				return fmt.Errorf("duplicate chunk delivery: %d-%d is below frontier %d",
					res.Desc.Start, res.Desc.End, nextIndex)
			}

			r := res
			pending[r.Desc.Index] = &r
			s.trackPending(len(pending))

			for {
				next, ok := pending[nextIndex]
				if !ok {
					break
				}
				if err := s.commitChunk(ctx, next.Chunk); err != nil {
					return fmt.Errorf("chunk %d-%d: %w", next.Desc.Start, next.Desc.End, err)
				}
				delete(pending, nextIndex)
				s.trackPending(len(pending))
				nextIndex++
			}
		}
	}

	return nil
}

// commitChunk verifies and applies one contiguous chunk, then advances the
// shared frontier and checkpoint.
func (s *Syncer) commitChunk(ctx context.Context, c *codec.DecodedChunk) error {
	applyStart := time.Now()
	if err := s.applier.ApplyChunk(ctx, c); err != nil {
		return err
	}

	s.mu.Lock()
	s.state.NextHeight = s.applier.NextHeight()
	s.state.Completed++
	s.state.AppliedBlocks += uint64(len(c.Blocks))
	completed := s.state.Completed
	total := s.state.TotalChunks
	startedAt := s.state.StartedAt
	appliedBlocks := s.state.AppliedBlocks
	s.mu.Unlock()

	if m := metrics.Get(); m != nil {
		m.ApplyDuration.Observe(time.Since(applyStart).Seconds())
		m.ChunksApplied.Inc()
		m.BlocksApplied.Add(float64(len(c.Blocks)))
		m.LastAppliedHeight.Set(float64(c.End))
	}

	if s.cp != nil {
		s.saveCheckpoint(ctx, c)
	}

	elapsed := time.Since(startedAt)
	rate := float64(appliedBlocks) / elapsed.Seconds()
	s.log.Info("sequencer progress",
		"applied_height", c.End,
		"chunks_committed", completed,
		"chunks_total", total,
		"rate_per_sec", fmt.Sprintf("%.2f", rate),
	)
	return nil
}

func (s *Syncer) saveCheckpoint(ctx context.Context, c *codec.DecodedChunk) {
	cp := &checkpoint.Checkpoint{
		Network:           s.cfg.Network,
		SourceLocation:    s.cfg.SourceLocation,
		LastAppliedHeight: c.End,
		LastAppliedHash:   s.applier.LastHash(),
		TargetHeight:      s.cfg.TargetHeight,
		UpdatedAt:         time.Now().UTC(),
	}
	if err := s.cp.Save(ctx, cp); err != nil {
		s.log.Warn("failed to save checkpoint", "error", err)
	}
}

func (s *Syncer) trackInFlight(delta int) {
	s.mu.Lock()
	s.state.InFlight += delta
	inFlight := s.state.InFlight
	s.mu.Unlock()
	if m := metrics.Get(); m != nil {
		m.InFlightChunks.Set(float64(inFlight))
	}
}

func (s *Syncer) trackPending(n int) {
	s.mu.Lock()
	s.state.Pending = n
	s.mu.Unlock()
	if m := metrics.Get(); m != nil {
		m.SequencerPending.Set(float64(n))
	}
}
