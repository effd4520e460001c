package blobs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	r, name, err := Open("gs://models/mlp/v1/model.hcl")
	require.NoError(t, err)
	assert.Equal(t, "model.hcl", name)
	require.IsType(t, &GCSStore{}, r)
	gcs := r.(*GCSStore)
	assert.Equal(t, "models", gcs.Bucket)
	assert.Equal(t, "mlp/v1/weights.bin", gcs.objectKey("weights.bin"))

	r, name, err = Open("gs://models/model.hcl")
	require.NoError(t, err)
	assert.Equal(t, "model.hcl", name)
	assert.Equal(t, "w.bin", r.(*GCSStore).objectKey("w.bin"))

	r, name, err = Open("https://example.com/files/model.hcl?x=1")
	require.NoError(t, err)
	assert.Equal(t, "model.hcl", name)
	assert.Equal(t, "https://example.com/files", r.(*HTTPStore).BaseURL.String())

	r, name, err = Open(filepath.Join("testdata", "model.hcl"))
	require.NoError(t, err)
	assert.Equal(t, "model.hcl", name)
	assert.Equal(t, "testdata", r.(*LocalStore).Dir)

	for _, bad := range []string{"", "gs://bucket", "gs://bucket/", "gs:///x", "https://example.com/"} {
		_, _, err := Open(bad)
		assert.Error(t, err, bad)
	}
}

func TestCheckName(t *testing.T) {
	assert.NoError(t, checkName("weights/w.bin"))
	assert.NoError(t, checkName("a..b"))
	assert.Error(t, checkName(""))
	assert.Error(t, checkName("/etc/passwd"))
	assert.Error(t, checkName("../secret"))
	assert.Error(t, checkName(`w\..\..\x`))
}

func TestLocalStore(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "w"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "w", "a.bin"), []byte{1, 2, 3}, 0o600))

	s := &LocalStore{Dir: dir}
	data, err := s.ReadFile(context.Background(), "w/a.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)

	_, err = s.ReadFile(context.Background(), "missing.bin")
	assert.ErrorIs(t, err, os.ErrNotExist)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.ReadFile(ctx, "w/a.bin")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTTPStore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/models/w.bin":
			_, _ = w.Write([]byte("weights"))
		case "/models/cached.bin":
			w.WriteHeader(http.StatusNonAuthoritativeInfo)
			_, _ = w.Write([]byte("proxied"))
		case "/models/broken.bin":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	r, name, err := Open(srv.URL + "/models/model.hcl")
	require.NoError(t, err)
	assert.Equal(t, "model.hcl", name)
	r.(*HTTPStore).Client = srv.Client()

	data, err := r.ReadFile(context.Background(), "w.bin")
	require.NoError(t, err)
	assert.Equal(t, "weights", string(data))

	data, err = r.ReadFile(context.Background(), "cached.bin")
	require.NoError(t, err, "any 2xx is a success")
	assert.Equal(t, "proxied", string(data))

	_, err = r.ReadFile(context.Background(), "model.hcl")
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = r.ReadFile(context.Background(), "broken.bin")
	assert.ErrorContains(t, err, "500")
}
