package ledger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/withObsrvr/obsrvr-cdn-sync/internal/codec"
)

func TestFileLedger_ApplyAndReopen(t *testing.T) {
	dir := t.TempDir()
	genesis := testHash(0)

	l, err := NewFileLedger(dir, genesis)
	if err != nil {
		t.Fatalf("NewFileLedger: %v", err)
	}
	if l.LastHeight() != 0 || l.LastHash() != genesis {
		t.Fatalf("fresh ledger tip %d/%s", l.LastHeight(), l.LastHash())
	}

	for h := uint32(1); h <= 3; h++ {
		b := codec.BlockRecord{
			Height:       h,
			PreviousHash: testHash(h - 1),
			Hash:         testHash(h),
			Body:         []byte{byte(h)},
		}
		if err := l.ApplyBlock(context.Background(), b); err != nil {
			t.Fatalf("ApplyBlock %d: %v", h, err)
		}
	}

	if l.LastHeight() != 3 || l.LastHash() != testHash(3) {
		t.Errorf("tip %d/%s, want 3/%s", l.LastHeight(), l.LastHash(), testHash(3))
	}

	if _, err := os.Stat(filepath.Join(dir, "blocks", "0000000002.bin")); err != nil {
		t.Errorf("block file missing: %v", err)
	}

	// Reopen: the persisted tip wins over the genesis argument.
	l2, err := NewFileLedger(dir, genesis)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if l2.LastHeight() != 3 || l2.LastHash() != testHash(3) {
		t.Errorf("reopened tip %d/%s, want 3/%s", l2.LastHeight(), l2.LastHash(), testHash(3))
	}
}

func TestFileLedger_RejectsEmptyBody(t *testing.T) {
	l, err := NewFileLedger(t.TempDir(), testHash(0))
	if err != nil {
		t.Fatalf("NewFileLedger: %v", err)
	}

	b := codec.BlockRecord{Height: 1, PreviousHash: testHash(0), Hash: testHash(1)}
	if err := l.ApplyBlock(context.Background(), b); err == nil {
		t.Error("expected rejection of empty body")
	}
	if l.LastHeight() != 0 {
		t.Errorf("tip moved to %d after rejection", l.LastHeight())
	}
}
