//go:build !gcp

package auditarchive

import (
	"context"
	"fmt"
)

// NewGCSStore is unavailable in builds without the gcp tag.
func NewGCSStore(ctx context.Context, cfg GCSConfig) (Store, error) {
	return nil, fmt.Errorf("auditarchive: GCS archiving is not enabled in this build (use -tags gcp)")
}
