package syncer

import (
	"time"

	"github.com/withObsrvr/obsrvr-cdn-sync/internal/chunk"
	"github.com/withObsrvr/obsrvr-cdn-sync/internal/codec"
)

// Task is one fetch+decode unit handed to a worker. Retry lives inside the
// source's fetch policy, so a task carries no attempt state.
type Task struct {
	Desc chunk.Descriptor
}

// Result is a completed task funneled to the sequencer. Exactly one of
// Chunk or Err is set.
type Result struct {
	Desc  chunk.Descriptor
	Chunk *codec.DecodedChunk
	Err   error
}

// Snapshot is a read-only copy of the pipeline's shared state. The Syncer
// owns the live copy and mutates it under its own lock; observers get
// value copies and tolerate slight staleness.
type Snapshot struct {
	StartHeight   uint32
	NextHeight    uint32
	TargetHeight  uint32
	TotalChunks   int
	Completed     int
	InFlight      int
	Pending       int
	AppliedBlocks uint64
	Failed        bool
	StartedAt     time.Time
}
