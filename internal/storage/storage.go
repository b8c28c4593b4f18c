package storage

import (
	"context"
	"io"
)

// Uploader archives event snapshot frames. Implementations must honor ctx
// cancellation; uploads are best effort and never block the pipeline.
type Uploader interface {
	Upload(ctx context.Context, objectName string, contentType string, r io.Reader) (storedPath string, err error)
}
