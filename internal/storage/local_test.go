package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	ok, err := s.Exists(ctx, "audio/u1/a.flac")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, "audio/u1/a.flac", strings.NewReader("fLaC")))

	ok, err = s.Exists(ctx, "audio/u1/a.flac")
	require.NoError(t, err)
	assert.True(t, ok)

	rc, err := s.Open(ctx, "audio/u1/a.flac")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "fLaC", string(data))

	require.NoError(t, s.Delete(ctx, "audio/u1/a.flac"))
	err = s.Delete(ctx, "audio/u1/a.flac")
	assert.True(t, errors.Is(err, ErrObjectNotFound))

	_, err = s.Open(ctx, "audio/u1/a.flac")
	assert.True(t, errors.Is(err, ErrObjectNotFound))
}

func TestLocalStoreRejectsEscapingPaths(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	tests := []string{"", "/", "."}
	for _, p := range tests {
		_, err := s.Exists(context.Background(), p)
		assert.Error(t, err, "path %q", p)
	}

	// parent references are clamped to the root
	require.NoError(t, s.Put(context.Background(), "../../x.wav", strings.NewReader("x")))
	ok, err := s.Exists(context.Background(), "x.wav")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSaveUpload(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", "talk.mp3")
	require.NoError(t, err)
	_, err = part.Write([]byte("ID3audio"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest("POST", "/uploads", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(1<<20))
	fh := req.MultipartForm.File["file"][0]

	up, err := s.SaveUpload(context.Background(), "u1", fh)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(up.Path, "audio/u1/"))
	assert.True(t, strings.HasSuffix(up.Path, "_talk.mp3"))
	assert.Equal(t, "talk.mp3", up.Filename)
	assert.Equal(t, int64(8), up.Size)

	ok, err := s.Exists(context.Background(), up.Path)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.SaveUpload(context.Background(), "", fh)
	assert.Error(t, err)
}
