package upload

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"stash/database"
	"stash/logger"
	"stash/metrics"
	"stash/middleware"
	"stash/models"

	"github.com/gabriel-vasile/mimetype"
)

const (
	// FormField is the multipart field that carries the file.
	FormField = "file"

	// URLPrefix is where the router serves the uploads directory.
	URLPrefix = "/uploads"

	// multipartSlack allows for part headers and boundaries on top of the file.
	multipartSlack = 1 << 20
	sniffLen       = 3072
	maxNameRetries = 5
	dirMode        = 0o750
)

var (
	ErrNoFile          = errors.New("no file uploaded")
	ErrPayloadTooLarge = errors.New("file exceeds upload size limit")
)

// Binder stores uploaded files under <root>/<projectID>/ and counts them in
// the project's stats. File names come from time plus a random suffix, so
// concurrent uploads never need a lock to avoid overwriting each other.
type Binder struct {
	root    string
	maxSize int64
	store   database.ProjectStore
	metrics *metrics.Metrics

	now   func() time.Time
	randN func() int64
}

type Options struct {
	MaxFileSize int64
	Metrics     *metrics.Metrics
}

func NewBinder(root string, store database.ProjectStore, opts Options) (*Binder, error) {
	if opts.MaxFileSize <= 0 {
		return nil, fmt.Errorf("invalid max file size %d", opts.MaxFileSize)
	}
	if err := os.MkdirAll(root, dirMode); err != nil {
		return nil, fmt.Errorf("failed to create uploads dir: %w", err)
	}
	return &Binder{
		root:    root,
		maxSize: opts.MaxFileSize,
		store:   store,
		metrics: opts.Metrics,
		now:     time.Now,
		randN:   func() int64 { return rand.Int64N(1e9) },
	}, nil
}

// Root is the directory files are written under.
func (b *Binder) Root() string {
	return b.root
}

// Bind streams the "file" part of r into the project's directory and bumps
// stats.uploads once the file is on disk. The caller must already have
// authorized project. A request without a file bumps stats.errors instead.
func (b *Binder) Bind(ctx context.Context, project *models.Project, r *http.Request, baseURL string) (*models.UploadResult, error) {
	log := logger.FromContext(ctx).With("project_id", project.ID)

	r.Body = http.MaxBytesReader(nil, r.Body, b.maxSize+multipartSlack)

	part, err := nextFilePart(r)
	if err != nil {
		if isTooLarge(err) {
			b.metrics.RecordUpload(metrics.UploadTooLarge, 0)
			return nil, ErrPayloadTooLarge
		}
		if errors.Is(err, ErrNoFile) {
			return nil, b.recordMissingFile(ctx, project.ID, err)
		}
		b.metrics.RecordUpload(metrics.UploadFailed, 0)
		return nil, err
	}
	defer part.Close()

	stored, err := b.persist(ctx, project.ID, part)
	if err != nil {
		switch {
		case errors.Is(err, ErrPayloadTooLarge):
			b.metrics.RecordUpload(metrics.UploadTooLarge, 0)
		default:
			b.metrics.RecordUpload(metrics.UploadFailed, 0)
		}
		return nil, err
	}

	if err := b.store.IncrementStat(ctx, project.ID, models.StatUploads, 1); err != nil {
		_ = os.Remove(stored.path)
		b.metrics.RecordUpload(metrics.UploadFailed, 0)
		if errors.Is(err, database.ErrNotFound) {
			log.Warn("Project removed during upload", "filename", stored.name)
			return nil, middleware.ErrUnauthorized
		}
		return nil, fmt.Errorf("failed to record upload: %w", err)
	}

	b.metrics.RecordUpload(metrics.UploadStored, stored.size)
	log.Info("Stored upload", "filename", stored.name, "bytes", stored.size, "mimetype", stored.mimeType)

	return &models.UploadResult{
		Success:  true,
		URL:      PublicURL(baseURL, project.ID, stored.name),
		Filename: stored.name,
		MimeType: stored.mimeType,
	}, nil
}

func (b *Binder) recordMissingFile(ctx context.Context, projectID string, cause error) error {
	b.metrics.RecordUpload(metrics.UploadNoFile, 0)
	if err := b.store.IncrementStat(ctx, projectID, models.StatErrors, 1); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return middleware.ErrUnauthorized
		}
		return fmt.Errorf("failed to record upload error: %w", err)
	}
	return cause
}

type storedFile struct {
	name     string
	path     string
	size     int64
	mimeType string
}

// persist writes part to a hidden temp file, then links it under a fresh
// generated name. Nothing is left behind on failure.
func (b *Binder) persist(ctx context.Context, projectID string, part *multipart.Part) (*storedFile, error) {
	dir := filepath.Join(b.root, projectID)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return nil, fmt.Errorf("failed to create project upload dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*.part")
	if err != nil {
		return nil, fmt.Errorf("failed to create upload file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	br := bufio.NewReaderSize(part, sniffLen)
	head, _ := br.Peek(sniffLen)
	mimeType := detectMIME(part.Header.Get("Content-Type"), head)

	n, err := io.Copy(tmp, io.LimitReader(br, b.maxSize+1))
	if err != nil {
		if isTooLarge(err) {
			return nil, ErrPayloadTooLarge
		}
		return nil, fmt.Errorf("failed to write upload: %w", err)
	}
	if n > b.maxSize {
		return nil, ErrPayloadTooLarge
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := tmp.Sync(); err != nil {
		return nil, fmt.Errorf("failed to sync upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close upload: %w", err)
	}

	name, path, err := b.commit(tmpPath, dir, part.FileName())
	if err != nil {
		return nil, err
	}
	return &storedFile{name: name, path: path, size: n, mimeType: mimeType}, nil
}

// commit gives the temp file its public name. os.Link refuses to replace an
// existing file, so a name clash just means drawing another name.
func (b *Binder) commit(tmpPath, dir, originalName string) (string, string, error) {
	for attempt := 0; attempt < maxNameRetries; attempt++ {
		name := b.generateName(originalName)
		path := filepath.Join(dir, name)

		err := os.Link(tmpPath, path)
		if err == nil {
			return name, path, nil
		}
		if errors.Is(err, os.ErrExist) {
			continue
		}

		// Filesystems without hard links: fall back to rename when the name is free.
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			if err := os.Rename(tmpPath, path); err != nil {
				return "", "", fmt.Errorf("failed to commit upload: %w", err)
			}
			return name, path, nil
		}
	}
	return "", "", fmt.Errorf("failed to find a free upload name after %d attempts", maxNameRetries)
}

func (b *Binder) generateName(originalName string) string {
	return fmt.Sprintf("%d-%d%s", b.now().UnixMilli(), b.randN(), sanitizeExt(filepath.Ext(originalName)))
}

// nextFilePart returns the first part named FormField that carries a file.
// Other parts are skipped. A body that is not multipart has no file.
func nextFilePart(r *http.Request) (*multipart.Part, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoFile, err)
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, ErrNoFile
		}
		if err != nil {
			if isTooLarge(err) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: malformed multipart body: %v", ErrNoFile, err)
		}
		if part.FormName() == FormField && part.FileName() != "" {
			return part, nil
		}
		_ = part.Close()
	}
}

// Helper functions

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr) || errors.Is(err, ErrPayloadTooLarge)
}

// sanitizeExt keeps ".ext" only when ext is 1-16 ASCII letters or digits.
func sanitizeExt(ext string) string {
	if len(ext) < 2 || len(ext) > 17 || ext[0] != '.' {
		return ""
	}
	for _, r := range ext[1:] {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !isAlnum {
			return ""
		}
	}
	return ext
}

// detectMIME prefers the declared type and sniffs only when the client sent
// nothing useful.
func detectMIME(declared string, head []byte) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if len(head) == 0 {
		return "application/octet-stream"
	}
	return mimetype.Detect(head).String()
}

// PublicURL builds the retrieval URL for a stored file.
func PublicURL(baseURL, projectID, filename string) string {
	return strings.TrimRight(baseURL, "/") + URLPrefix + "/" + url.PathEscape(projectID) + "/" + url.PathEscape(filename)
}

// BaseURL derives scheme://host for r, honouring X-Forwarded-Proto.
func BaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}
