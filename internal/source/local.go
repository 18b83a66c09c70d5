package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/withObsrvr/obsrvr-cdn-sync/internal/chunk"
)

// localSource reads pre-packaged chunk files from a directory. Used for
// development and air-gapped bootstrap from a snapshot on disk.
type localSource struct {
	cfg Config
}

func newLocalSource(cfg Config) *localSource {
	return &localSource{cfg: cfg}
}

func (s *localSource) Fetch(ctx context.Context, d chunk.Descriptor) ([]byte, error) {
	path := filepath.Join(s.cfg.LocalDir, filepath.FromSlash(ObjectKey(s.cfg, d)))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &NetworkError{Err: fmt.Errorf("read chunk file: %w", err)}
	}
	return data, nil
}

func (s *localSource) Close() error {
	return nil
}
