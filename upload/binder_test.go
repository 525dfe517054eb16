package upload

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"stash/database"
	"stash/metrics"
	"stash/middleware"
	"stash/models"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const testBaseURL = "http://localhost:3000"

func newTestBinder(t *testing.T, maxSize int64) (*Binder, *database.FileStore, *models.Project) {
	t.Helper()

	store := database.NewTestFileStore(t)
	project, err := store.CreateProject(context.Background(), "Demo", nil)
	require.NoError(t, err)

	b, err := NewBinder(t.TempDir(), store, Options{MaxFileSize: maxSize, Metrics: metrics.New()})
	require.NoError(t, err)
	return b, store, project
}

func fileRequest(t *testing.T, field, filename, contentType string, content []byte) *http.Request {
	t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	require.NoError(t, w.WriteField("note", "ignored"))

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload/x", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func projectFiles(t *testing.T, b *Binder, projectID string) []string {
	t.Helper()

	entries, err := os.ReadDir(filepath.Join(b.Root(), projectID))
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestNewBinder_RejectsBadLimit(t *testing.T) {
	_, err := NewBinder(t.TempDir(), nil, Options{})
	assert.Error(t, err)
}

func TestBind_StoresFile(t *testing.T) {
	b, store, project := newTestBinder(t, 1024)
	ctx := context.Background()
	content := []byte("0123456789")

	result, err := b.Bind(ctx, project, fileRequest(t, FormField, "notes.txt", "text/plain", content), testBaseURL)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "text/plain", result.MimeType)
	assert.True(t, strings.HasSuffix(result.Filename, ".txt"))
	assert.Equal(t, testBaseURL+"/uploads/"+project.ID+"/"+result.Filename, result.URL)

	stored, err := os.ReadFile(filepath.Join(b.Root(), project.ID, result.Filename))
	require.NoError(t, err)
	assert.Equal(t, content, stored)
	assert.Equal(t, []string{result.Filename}, projectFiles(t, b, project.ID), "no temp files left behind")

	got, err := store.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Stats.Uploads)
	assert.Equal(t, int64(0), got.Stats.Errors)
	assert.Equal(t, 1.0, testutil.ToFloat64(b.metrics.UploadsTotal.WithLabelValues(metrics.UploadStored)))
}

func TestBind_SniffsMissingType(t *testing.T) {
	b, _, project := newTestBinder(t, 1024)
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

	result, err := b.Bind(context.Background(), project, fileRequest(t, FormField, "pic", "", png), testBaseURL)
	require.NoError(t, err)
	assert.Equal(t, "image/png", result.MimeType)
	assert.NotContains(t, result.Filename, ".", "no extension when the original has none")
}

func TestBind_NoFile(t *testing.T) {
	tests := []struct {
		name string
		req  func(t *testing.T) *http.Request
	}{
		{
			name: "wrong field",
			req: func(t *testing.T) *http.Request {
				return fileRequest(t, "attachment", "a.txt", "text/plain", []byte("x"))
			},
		},
		{
			name: "not multipart",
			req: func(t *testing.T) *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/api/upload/x", strings.NewReader(`{"file":"x"}`))
				req.Header.Set("Content-Type", "application/json")
				return req
			},
		},
		{
			name: "malformed multipart",
			req: func(t *testing.T) *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/api/upload/x", strings.NewReader("garbage"))
				req.Header.Set("Content-Type", "multipart/form-data; boundary=xyz")
				return req
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, store, project := newTestBinder(t, 1024)
			ctx := context.Background()

			_, err := b.Bind(ctx, project, tt.req(t), testBaseURL)
			assert.ErrorIs(t, err, ErrNoFile)

			got, err := store.GetProject(ctx, project.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(1), got.Stats.Errors)
			assert.Equal(t, int64(0), got.Stats.Uploads)
			assert.Empty(t, projectFiles(t, b, project.ID))
		})
	}
}

func TestBind_TooLarge(t *testing.T) {
	b, store, project := newTestBinder(t, 16)
	ctx := context.Background()

	_, err := b.Bind(ctx, project, fileRequest(t, FormField, "big.bin", "application/octet-stream", bytes.Repeat([]byte("a"), 64)), testBaseURL)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)

	got, err := store.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStats{}, got.Stats)
	assert.Empty(t, projectFiles(t, b, project.ID))
}

func TestBind_ExactlyAtLimit(t *testing.T) {
	b, _, project := newTestBinder(t, 16)

	result, err := b.Bind(context.Background(), project, fileRequest(t, FormField, "ok.bin", "application/x-test", bytes.Repeat([]byte("a"), 16)), testBaseURL)
	require.NoError(t, err)
	assert.Equal(t, "application/x-test", result.MimeType)
}

func TestBind_ProjectDeletedMidUpload(t *testing.T) {
	b, store, project := newTestBinder(t, 1024)
	ctx := context.Background()
	require.NoError(t, store.DeleteProject(ctx, project.ID))

	_, err := b.Bind(ctx, project, fileRequest(t, FormField, "a.txt", "text/plain", []byte("late")), testBaseURL)
	assert.ErrorIs(t, err, middleware.ErrUnauthorized)
	assert.Empty(t, projectFiles(t, b, project.ID))
}

func TestBind_RetriesNameCollision(t *testing.T) {
	b, _, project := newTestBinder(t, 1024)
	ctx := context.Background()

	fixed := time.UnixMilli(1700000000000)
	b.now = func() time.Time { return fixed }
	var (
		mu    sync.Mutex
		draws = []int64{7, 7, 8}
	)
	b.randN = func() int64 {
		mu.Lock()
		defer mu.Unlock()
		n := draws[0]
		draws = draws[1:]
		return n
	}

	first, err := b.Bind(ctx, project, fileRequest(t, FormField, "a.txt", "text/plain", []byte("one")), testBaseURL)
	require.NoError(t, err)
	second, err := b.Bind(ctx, project, fileRequest(t, FormField, "b.txt", "text/plain", []byte("two")), testBaseURL)
	require.NoError(t, err)

	assert.Equal(t, "1700000000000-7.txt", first.Filename)
	assert.Equal(t, "1700000000000-8.txt", second.Filename)

	data, err := os.ReadFile(filepath.Join(b.Root(), project.ID, first.Filename))
	require.NoError(t, err)
	assert.Equal(t, "one", string(data), "first file is never overwritten")
}

func TestBind_Concurrent(t *testing.T) {
	b, store, project := newTestBinder(t, 1024)
	ctx := context.Background()

	const n = 20
	var g errgroup.Group
	for i := 0; i < n; i++ {
		req := fileRequest(t, FormField, "f.txt", "text/plain", []byte(fmt.Sprintf("payload-%d", i)))
		g.Go(func() error {
			_, err := b.Bind(ctx, project, req, testBaseURL)
			return err
		})
	}
	require.NoError(t, g.Wait())

	got, err := store.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(n), got.Stats.Uploads)
	assert.Len(t, projectFiles(t, b, project.ID), n)
}

func TestSanitizeExt(t *testing.T) {
	tests := []struct {
		ext      string
		expected string
	}{
		{ext: ".png", expected: ".png"},
		{ext: ".JPEG", expected: ".JPEG"},
		{ext: ".mp4", expected: ".mp4"},
		{ext: "", expected: ""},
		{ext: ".", expected: ""},
		{ext: ".tar gz", expected: ""},
		{ext: "./../x", expected: ""},
		{ext: ".abcdefghijklmnopq", expected: ""},
		{ext: ".abcdefghijklmnop", expected: ".abcdefghijklmnop"},
	}

	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeExt(tt.ext))
		})
	}
}

func TestDetectMIME(t *testing.T) {
	tests := []struct {
		name     string
		declared string
		head     []byte
		expected string
	}{
		{name: "declared wins", declared: "image/jpeg", head: []byte("plain text"), expected: "image/jpeg"},
		{name: "octet-stream sniffs", declared: "application/octet-stream", head: []byte("%PDF-1.4\n"), expected: "application/pdf"},
		{name: "empty sniffs", declared: "", head: []byte("hello"), expected: "text/plain; charset=utf-8"},
		{name: "nothing to sniff", declared: "", head: nil, expected: "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, detectMIME(tt.declared, tt.head))
		})
	}
}

func TestPublicURL(t *testing.T) {
	assert.Equal(t, "https://cdn.example.com/uploads/p1/1-2.png", PublicURL("https://cdn.example.com/", "p1", "1-2.png"))
}

func TestBaseURL(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "stash.local:3000"
	assert.Equal(t, "http://stash.local:3000", BaseURL(req))

	req.Header.Set("X-Forwarded-Proto", "https")
	assert.Equal(t, "https://stash.local:3000", BaseURL(req))

	req.Header.Del("X-Forwarded-Proto")
	req.TLS = &tls.ConnectionState{}
	assert.Equal(t, "https://stash.local:3000", BaseURL(req))
}
