package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/withObsrvr/obsrvr-cdn-sync/internal/codec"
)

// FileLedger is a reference Ledger that persists block bodies to a
// directory and tracks the tip in a JSON file. It backs the standalone
// binary and tests; a node embeds its own Ledger instead.
type FileLedger struct {
	dir string
	tip tipRecord
}

type tipRecord struct {
	Height    uint32    `json:"height"`
	Hash      string    `json:"hash"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewFileLedger opens (or initializes) a file ledger. genesisHash is the
// tip hash reported before any block is applied; a previously written tip
// file wins over it.
func NewFileLedger(dir, genesisHash string) (*FileLedger, error) {
	if err := os.MkdirAll(filepath.Join(dir, "blocks"), 0755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}

	l := &FileLedger{
		dir: dir,
		tip: tipRecord{Height: 0, Hash: genesisHash},
	}

	data, err := os.ReadFile(l.tipPath())
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("read tip file: %w", err)
	}
	if err := json.Unmarshal(data, &l.tip); err != nil {
		return nil, fmt.Errorf("parse tip file: %w", err)
	}
	return l, nil
}

func (l *FileLedger) tipPath() string {
	return filepath.Join(l.dir, "tip.json")
}

func (l *FileLedger) blockPath(height uint32) string {
	return filepath.Join(l.dir, "blocks", fmt.Sprintf("%010d.bin", height))
}

// ApplyBlock persists the block body and advances the tip. Both writes are
// atomic via temp file + rename.
func (l *FileLedger) ApplyBlock(ctx context.Context, b codec.BlockRecord) error {
	if len(b.Body) == 0 {
		return fmt.Errorf("block %d has an empty body", b.Height)
	}

	if err := writeAtomic(l.blockPath(b.Height), b.Body); err != nil {
		return fmt.Errorf("write block %d: %w", b.Height, err)
	}

	tip := tipRecord{Height: b.Height, Hash: b.Hash, UpdatedAt: time.Now().UTC()}
	data, err := json.MarshalIndent(tip, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal tip: %w", err)
	}
	if err := writeAtomic(l.tipPath(), data); err != nil {
		return fmt.Errorf("write tip: %w", err)
	}

	l.tip = tip
	return nil
}

func (l *FileLedger) LastHeight() uint32 {
	return l.tip.Height
}

func (l *FileLedger) LastHash() string {
	return l.tip.Hash
}

func writeAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"

	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write temp file %s: %w", tempPath, err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename %s to %s: %w", tempPath, path, err)
	}
	return nil
}
