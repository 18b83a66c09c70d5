package ledger

import (
	"context"
	"log/slog"

	"github.com/withObsrvr/obsrvr-cdn-sync/internal/codec"
	"github.com/withObsrvr/obsrvr-cdn-sync/internal/logging"
)

// Applier applies blocks in strict ascending height order, checking hash
// linkage against the last applied block before delegating to the ledger.
// It is driven only by the sequencer, one chunk at a time, so it carries
// no locking of its own.
type Applier struct {
	ledger   Ledger
	next     uint32
	lastHash string
	log      *slog.Logger
}

// NewApplier seeds the bridge from the ledger's current tip. The first
// block of the run must declare that tip's hash as its parent.
func NewApplier(l Ledger, startHeight uint32) *Applier {
	return &Applier{
		ledger:   l,
		next:     startHeight,
		lastHash: l.LastHash(),
		log:      logging.Component("applier"),
	}
}

// ApplyChunk applies every block of the chunk in order. The first failure
// stops the chunk; no block at or after the failure is applied.
func (a *Applier) ApplyChunk(ctx context.Context, c *codec.DecodedChunk) error {
	for i := range c.Blocks {
		if err := a.applyBlock(ctx, &c.Blocks[i]); err != nil {
			return err
		}
	}
	a.log.Debug("chunk applied", "height_start", c.Start, "height_end", c.End, "blocks", len(c.Blocks))
	return nil
}

func (a *Applier) applyBlock(ctx context.Context, b *codec.BlockRecord) error {
	if b.Height != a.next || b.PreviousHash != a.lastHash {
		return &ChainLinkageError{
			Height:     b.Height,
			WantHeight: a.next,
			WantParent: a.lastHash,
			GotParent:  b.PreviousHash,
		}
	}

	if err := a.ledger.ApplyBlock(ctx, *b); err != nil {
		return &LedgerRejectionError{Height: b.Height, Err: err}
	}

	a.lastHash = b.Hash
	a.next = b.Height + 1
	return nil
}

// NextHeight returns the height the applier expects next.
func (a *Applier) NextHeight() uint32 {
	return a.next
}

// LastHash returns the hash of the most recently applied block.
func (a *Applier) LastHash() string {
	return a.lastHash
}
