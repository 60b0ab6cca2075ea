package archive

import (
	"context"
	"errors"
	"fmt"

	"gocloud.dev/blob"

	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

var ErrOpenBucket = errors.New("failed to open archive bucket")

// OpenBucket opens the bucket at url. Supported schemes are file, mem, s3,
// gs, and azblob
func OpenBucket(ctx context.Context, url string) (*blob.Bucket, error) {
	b, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpenBucket, err)
	}
	return b, nil
}
