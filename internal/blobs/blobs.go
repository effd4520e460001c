// Package blobs reads graph descriptions and weight files from local disk, Google
// Cloud Storage, or an HTTP server.
package blobs

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// Reader reads named objects relative to a base location.
// If no such object exists, ReadFile returns an error for which
// errors.Is(err, os.ErrNotExist) is true.
type Reader interface {
	ReadFile(ctx context.Context, name string) ([]byte, error)
}

// Open splits location into a Reader for its directory and the object name
// inside it. Supported forms are gs://bucket/path, http(s)://host/path, and
// local paths.
func Open(location string) (Reader, string, error) {
	switch {
	case strings.HasPrefix(location, "gs://"):
		bucket, object, ok := strings.Cut(strings.TrimPrefix(location, "gs://"), "/")
		if !ok || bucket == "" || object == "" || strings.HasSuffix(object, "/") {
			return nil, "", fmt.Errorf("invalid GCS location %q, want gs://bucket/object", location)
		}
		return &GCSStore{Bucket: bucket, Prefix: path.Dir(object)}, path.Base(object), nil

	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		u, err := url.Parse(location)
		if err != nil {
			return nil, "", fmt.Errorf("parsing %q: %w", location, err)
		}
		name := path.Base(u.Path)
		if u.Path == "" || strings.HasSuffix(u.Path, "/") {
			return nil, "", fmt.Errorf("invalid URL %q, want a file", location)
		}
		base := *u
		base.Path = path.Dir(u.Path)
		base.RawQuery, base.Fragment = "", ""
		return &HTTPStore{BaseURL: &base}, name, nil

	default:
		if location == "" {
			return nil, "", fmt.Errorf("empty location")
		}
		return &LocalStore{Dir: filepath.Dir(location)}, filepath.Base(location), nil
	}
}

// checkName rejects names that escape the base location.
func checkName(name string) error {
	if name == "" || path.IsAbs(name) || filepath.IsAbs(name) {
		return fmt.Errorf("invalid object name %q", name)
	}
	for _, part := range strings.FieldsFunc(name, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return fmt.Errorf("object name %q leaves the base location", name)
		}
	}
	return nil
}
