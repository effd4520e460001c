package blobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"cloud.google.com/go/storage"
	"k8s.io/klog/v2"
)

// GCSStore reads objects below a prefix of a Cloud Storage bucket, using
// application default credentials.
type GCSStore struct {
	Bucket string
	Prefix string
}

var _ Reader = (*GCSStore)(nil)

// ReadFile downloads the object name below Prefix. A missing object maps to
// os.ErrNotExist.
func (s *GCSStore) ReadFile(ctx context.Context, name string) ([]byte, error) {
	log := klog.FromContext(ctx)

	if err := checkName(name); err != nil {
		return nil, err
	}
	objectKey := s.objectKey(name)
	gcsURL := "gs://" + s.Bucket + "/" + objectKey

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating GCS storage client: %w", err)
	}
	defer client.Close()

	log.V(2).Info("reading object from GCS", "url", gcsURL)

	startedAt := time.Now()
	r, err := client.Bucket(s.Bucket).Object(objectKey).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("object %q: %w", gcsURL, os.ErrNotExist)
		}
		return nil, fmt.Errorf("opening object from GCS %q: %w", gcsURL, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading from GCS %q: %w", gcsURL, err)
	}

	log.Info("read object from GCS", "url", gcsURL, "bytes", len(data), "duration", time.Since(startedAt))
	return data, nil
}

func (s *GCSStore) objectKey(name string) string {
	if s.Prefix == "" || s.Prefix == "." {
		return path.Clean(name)
	}
	return path.Join(s.Prefix, name)
}
