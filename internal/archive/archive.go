// Package archive uploads rendered processing inputs and sbatch
// scripts to an object store, keyed by beamtime and run. The archive
// is best effort provenance: upload failures are reported to the
// caller but must never stop a submission.
package archive

import (
	"context"
	"fmt"
	"path"
	"path/filepath"

	"github.com/minio/minio-go/v7"

	"github.com/galchenm/data-processing-for-P09-beamline/internal/platform/objectstore"
)

type Archive struct {
	client   *minio.Client
	bucket   string
	beamtime string
}

// New connects to the object store and makes sure the bucket exists.
func New(ctx context.Context, cfg objectstore.Config, beamtimeID string) (*Archive, error) {
	client, err := objectstore.NewMinIOClient(cfg)
	if err != nil {
		return nil, err
	}
	if err := objectstore.EnsureBucket(ctx, client, cfg); err != nil {
		return nil, err
	}
	return &Archive{client: client, bucket: cfg.Bucket, beamtime: beamtimeID}, nil
}

// StoreFile uploads one local file under <beamtime>/<run>/<basename>.
// Re-uploading the same key overwrites, so a forced rerun archives its
// latest inputs.
func (a *Archive) StoreFile(ctx context.Context, run, localPath string) error {
	key := path.Join(a.beamtime, run, filepath.Base(localPath))
	_, err := a.client.FPutObject(ctx, a.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: "text/plain",
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}
