// Package ledger bridges decoded blocks into the node's ledger.
package ledger

import (
	"context"
	"fmt"

	"github.com/withObsrvr/obsrvr-cdn-sync/internal/codec"
)

// Ledger is the consumed collaborator that owns consensus rules and block
// application. ApplyBlock may reject a block as semantically invalid; the
// sync client never second-guesses that decision.
type Ledger interface {
	ApplyBlock(ctx context.Context, b codec.BlockRecord) error
	LastHeight() uint32
	LastHash() string
}

// ChainLinkageError reports a block whose height or parent hash does not
// extend the last applied block. Fatal for the run: it means corrupted CDN
// data or a wrong base height, never something to skip past.
type ChainLinkageError struct {
	Height     uint32
	WantHeight uint32
	WantParent string
	GotParent  string
}

func (e *ChainLinkageError) Error() string {
	if e.Height != e.WantHeight {
		return fmt.Sprintf("chain linkage broken: got height %d, expected %d", e.Height, e.WantHeight)
	}
	return fmt.Sprintf("chain linkage broken at height %d: parent hash %s, expected %s",
		e.Height, e.GotParent, e.WantParent)
}

// LedgerRejectionError wraps a semantic rejection from the ledger.
type LedgerRejectionError struct {
	Height uint32
	Err    error
}

func (e *LedgerRejectionError) Error() string {
	return fmt.Sprintf("ledger rejected block %d: %v", e.Height, e.Err)
}

func (e *LedgerRejectionError) Unwrap() error {
	return e.Err
}
