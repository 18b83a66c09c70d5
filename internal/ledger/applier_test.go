package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"

	"github.com/withObsrvr/obsrvr-cdn-sync/internal/codec"
)

func testHash(height uint32) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("block-%d", height)))
	return hex.EncodeToString(sum[:])
}

func testChunk(start, end uint32) *codec.DecodedChunk {
	c := &codec.DecodedChunk{Start: start, End: end}
	for h := start; h <= end; h++ {
		c.Blocks = append(c.Blocks, codec.BlockRecord{
			Height:       h,
			PreviousHash: testHash(h - 1),
			Hash:         testHash(h),
			Body:         []byte("body"),
		})
	}
	return c
}

// fakeLedger records applied blocks and can reject a chosen height.
type fakeLedger struct {
	height   uint32
	hash     string
	applied  []uint32
	rejectAt uint32
}

func (f *fakeLedger) ApplyBlock(ctx context.Context, b codec.BlockRecord) error {
	if f.rejectAt != 0 && b.Height == f.rejectAt {
		return errors.New("invalid state transition")
	}
	f.height = b.Height
	f.hash = b.Hash
	f.applied = append(f.applied, b.Height)
	return nil
}

func (f *fakeLedger) LastHeight() uint32 { return f.height }
func (f *fakeLedger) LastHash() string   { return f.hash }

func TestApplier_AppliesChunkInOrder(t *testing.T) {
	l := &fakeLedger{height: 99, hash: testHash(99)}
	a := NewApplier(l, 100)

	if err := a.ApplyChunk(context.Background(), testChunk(100, 104)); err != nil {
		t.Fatalf("ApplyChunk: %v", err)
	}

	if len(l.applied) != 5 {
		t.Fatalf("applied %d blocks, want 5", len(l.applied))
	}
	for i, h := range l.applied {
		if h != 100+uint32(i) {
			t.Errorf("applied[%d] = %d", i, h)
		}
	}
	if a.NextHeight() != 105 {
		t.Errorf("NextHeight %d, want 105", a.NextHeight())
	}
	if a.LastHash() != testHash(104) {
		t.Errorf("LastHash mismatch")
	}
}

func TestApplier_BrokenParentHash(t *testing.T) {
	l := &fakeLedger{height: 99, hash: testHash(99)}
	a := NewApplier(l, 100)

	c := testChunk(100, 102)
	c.Blocks[1].PreviousHash = testHash(7777)

	err := a.ApplyChunk(context.Background(), c)
	var le *ChainLinkageError
	if !errors.As(err, &le) {
		t.Fatalf("expected ChainLinkageError, got %v", err)
	}
	if le.Height != 101 {
		t.Errorf("failure at height %d, want 101", le.Height)
	}
	// Only the block before the break was applied.
	if len(l.applied) != 1 || l.applied[0] != 100 {
		t.Errorf("applied %v, want [100]", l.applied)
	}
}

func TestApplier_WrongStartParent(t *testing.T) {
	// Ledger tip hash differs from the chunk's first parent: wrong base
	// height or tampered data, either way fatal before anything applies.
	l := &fakeLedger{height: 99, hash: testHash(9999)}
	a := NewApplier(l, 100)

	err := a.ApplyChunk(context.Background(), testChunk(100, 101))
	var le *ChainLinkageError
	if !errors.As(err, &le) {
		t.Fatalf("expected ChainLinkageError, got %v", err)
	}
	if len(l.applied) != 0 {
		t.Errorf("applied %v, want none", l.applied)
	}
}

func TestApplier_HeightGap(t *testing.T) {
	l := &fakeLedger{height: 99, hash: testHash(99)}
	a := NewApplier(l, 100)

	err := a.ApplyChunk(context.Background(), testChunk(102, 103))
	var le *ChainLinkageError
	if !errors.As(err, &le) {
		t.Fatalf("expected ChainLinkageError, got %v", err)
	}
	if le.WantHeight != 100 {
		t.Errorf("WantHeight %d, want 100", le.WantHeight)
	}
}

func TestApplier_LedgerRejection(t *testing.T) {
	l := &fakeLedger{height: 99, hash: testHash(99), rejectAt: 101}
	a := NewApplier(l, 100)

	err := a.ApplyChunk(context.Background(), testChunk(100, 103))
	var re *LedgerRejectionError
	if !errors.As(err, &re) {
		t.Fatalf("expected LedgerRejectionError, got %v", err)
	}
	if re.Height != 101 {
		t.Errorf("rejection at %d, want 101", re.Height)
	}
	// Applier state stays at the rejected height so nothing after it can link.
	if a.NextHeight() != 101 {
		t.Errorf("NextHeight %d, want 101", a.NextHeight())
	}
}
