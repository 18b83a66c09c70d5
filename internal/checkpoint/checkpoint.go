// Package checkpoint persists sync resume points.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrNoCheckpoint is returned when no checkpoint exists.
var ErrNoCheckpoint = errors.New("no checkpoint found")

// Checkpoint records how far a sync run got. A later invocation resumes
// above LastAppliedHeight when the identity fields still match.
type Checkpoint struct {
	Network           string    `json:"network"`
	SourceLocation    string    `json:"source_location"`
	LastAppliedHeight uint32    `json:"last_applied_height"`
	LastAppliedHash   string    `json:"last_applied_hash"`
	TargetHeight      uint32    `json:"target_height"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Matches reports whether the checkpoint was written for the same network
// and source as the current run.
func (cp *Checkpoint) Matches(network, sourceLocation string) bool {
	return cp.Network == network && cp.SourceLocation == sourceLocation
}

// Manager handles checkpoint persistence and retrieval.
type Manager interface {
	// Load reads the current checkpoint.
	Load(ctx context.Context) (*Checkpoint, error)

	// Save persists the checkpoint.
	Save(ctx context.Context, cp *Checkpoint) error
}

// Config configures the checkpoint manager.
type Config struct {
	Enabled bool
	Dir     string // directory for checkpoint files
	Network string // keys the checkpoint file; one file per network
}

// NewManager creates a checkpoint manager based on configuration.
func NewManager(cfg Config) (Manager, error) {
	if !cfg.Enabled {
		return &noopManager{}, nil
	}
	if cfg.Network == "" {
		return nil, fmt.Errorf("checkpoint manager requires a network name")
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory %s: %w", cfg.Dir, err)
	}

	return &fileManager{dir: cfg.Dir, network: cfg.Network}, nil
}

// fileManager persists checkpoints to local files, one per network.
type fileManager struct {
	dir     string
	network string
}

func (m *fileManager) checkpointPath(network string) string {
	return filepath.Join(m.dir, fmt.Sprintf("checkpoint_%s.json", network))
}

// Load reads this network's checkpoint file. Other networks' files in the
// same directory are never considered.
func (m *fileManager) Load(ctx context.Context) (*Checkpoint, error) {
	return m.loadFromPath(m.checkpointPath(m.network))
}

func (m *fileManager) loadFromPath(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCheckpoint
		}
		return nil, fmt.Errorf("read checkpoint file: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint file: %w", err)
	}
	return &cp, nil
}

// Save persists the checkpoint atomically via temp file + rename.
func (m *fileManager) Save(ctx context.Context, cp *Checkpoint) error {
	path := m.checkpointPath(m.network)

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write checkpoint temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename checkpoint file: %w", err)
	}
	return nil
}

// noopManager is used when checkpointing is disabled.
type noopManager struct{}

func (m *noopManager) Load(ctx context.Context) (*Checkpoint, error) {
	return nil, ErrNoCheckpoint
}

func (m *noopManager) Save(ctx context.Context, cp *Checkpoint) error {
	return nil
}
