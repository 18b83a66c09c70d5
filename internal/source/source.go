// Package source retrieves raw chunk payloads from a CDN or mirror.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/withObsrvr/obsrvr-cdn-sync/internal/chunk"
)

// ChunkSource fetches the raw payload for one chunk descriptor. Fetch owns
// its own retry policy; a returned error is terminal for the chunk.
type ChunkSource interface {
	Fetch(ctx context.Context, d chunk.Descriptor) ([]byte, error)
	Close() error
}

// Config selects and parameterizes a chunk source.
type Config struct {
	Mode           string // "http" | "blob" | "local"
	BaseURL        string // http mode: CDN base URL
	BlobURL        string // blob mode: gs://, s3:// or file:// bucket URL
	LocalDir       string // local mode: directory holding chunk files
	Network        string // object key prefix
	Compressed     bool   // request .zst objects
	MaxRetries     int    // total fetch attempts per chunk (http mode)
	RetryBaseDelay time.Duration
	RequestTimeout time.Duration
}

// ErrInvalidSourceMode is returned for an unrecognized source mode.
var ErrInvalidSourceMode = errors.New("invalid source mode")

// New constructs a chunk source based on the configured mode.
func New(ctx context.Context, cfg Config) (ChunkSource, error) {
	switch cfg.Mode {
	case "http", "":
		return newHTTPSource(cfg), nil
	case "blob":
		return newBlobSource(ctx, cfg)
	case "local":
		return newLocalSource(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidSourceMode, cfg.Mode)
	}
}

// ObjectKey derives the deterministic object name for a descriptor. Every
// backend serves the same layout: {network}/chunk-{start}-{end}.bin[.zst].
func ObjectKey(cfg Config, d chunk.Descriptor) string {
	name := fmt.Sprintf("chunk-%d-%d.bin", d.Start, d.End)
	if cfg.Compressed {
		name += ".zst"
	}
	if cfg.Network != "" {
		return cfg.Network + "/" + name
	}
	return name
}
