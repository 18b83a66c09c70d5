package source

import (
	"context"
	"fmt"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"

	"github.com/withObsrvr/obsrvr-cdn-sync/internal/chunk"
)

// blobSource reads chunks from an object-store mirror (gs://, s3://, or
// file:// for testing). The bucket drivers carry their own request retry;
// a missing object is permanent, everything else is reported transient.
type blobSource struct {
	cfg    Config
	bucket *blob.Bucket
}

func newBlobSource(ctx context.Context, cfg Config) (*blobSource, error) {
	bucket, err := blob.OpenBucket(ctx, cfg.BlobURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", cfg.BlobURL, err)
	}
	return &blobSource{cfg: cfg, bucket: bucket}, nil
}

func (s *blobSource) Fetch(ctx context.Context, d chunk.Descriptor) ([]byte, error) {
	key := ObjectKey(s.cfg, d)

	data, err := s.bucket.ReadAll(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, &NetworkError{Err: fmt.Errorf("object %s: %w", key, err)}
		}
		return nil, &NetworkError{Transient: true, Err: fmt.Errorf("read object %s: %w", key, err)}
	}
	return data, nil
}

func (s *blobSource) Close() error {
	return s.bucket.Close()
}
