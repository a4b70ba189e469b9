// Package resource manages institution-owned records (financial entries,
// contracts, audits, reports, partnerships, documents) and their files.
package resource

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"donationcore/internal/blob"
	"donationcore/internal/logging"
	"donationcore/internal/observability"
	"donationcore/internal/saga"
	"donationcore/pkg/domain"
)

// DefaultMaxFileSize bounds uploads held in memory for content sniffing.
const DefaultMaxFileSize int64 = 20 << 20

// FileInput is an uploaded file.
type FileInput struct {
	Name   string
	Reader io.Reader
}

// CreateInput carries the fields of a new resource.
type CreateInput struct {
	Title       string
	Description string
	Amount      *decimal.Decimal
	Attributes  map[string]string
	File        *FileInput
}

// Service implements the resource operations.
type Service struct {
	store       domain.ResourceStore
	blobs       blob.Store
	metrics     observability.Recorder
	now         func() time.Time
	newID       func() string
	maxFileSize int64
	urlExpiry   time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics sets the metrics recorder.
func WithMetrics(rec observability.Recorder) Option {
	return func(s *Service) {
		if rec != nil {
			s.metrics = rec
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithIDGenerator overrides id and file token generation.
func WithIDGenerator(fn func() string) Option { return func(s *Service) { s.newID = fn } }

// WithMaxFileSize caps the accepted upload size.
func WithMaxFileSize(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxFileSize = n
		}
	}
}

// WithURLExpiry sets the lifetime of presigned file URLs.
func WithURLExpiry(d time.Duration) Option { return func(s *Service) { s.urlExpiry = d } }

// NewService constructs a Service over the row and object stores.
func NewService(store domain.ResourceStore, blobs blob.Store, opts ...Option) *Service {
	s := &Service{
		store:       store,
		blobs:       blobs,
		metrics:     observability.NoopRecorder{},
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
		maxFileSize: DefaultMaxFileSize,
		urlExpiry:   15 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func lookup(ownerID string, kind domain.ResourceKind) (domain.KindSpec, error) {
	if strings.TrimSpace(ownerID) == "" {
		return domain.KindSpec{}, domain.ErrUnauthorized
	}
	spec, ok := domain.LookupKind(kind)
	if !ok {
		return domain.KindSpec{}, domain.NotFoundError{Entity: "kind", ID: string(kind)}
	}
	return spec, nil
}

type upload struct {
	data        []byte
	name        string
	contentType string
}

func (s *Service) readFile(f *FileInput) (*upload, error) {
	if f == nil || f.Reader == nil {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(f.Reader, s.maxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("resource: read upload: %w: %w", domain.ErrInternal, err)
	}
	if len(data) == 0 {
		return nil, domain.Invalid("file", "nenhum arquivo enviado")
	}
	if int64(len(data)) > s.maxFileSize {
		return nil, domain.Invalid("file", fmt.Sprintf("arquivo excede o limite de %d bytes", s.maxFileSize))
	}
	return &upload{data: data, name: SanitizeFilename(f.Name), contentType: mimetype.Detect(data).String()}, nil
}

// Create validates the input, uploads the file (if any) and inserts the row.
// A failed insert deletes the uploaded object.
func (s *Service) Create(ctx context.Context, ownerID string, kind domain.ResourceKind, in CreateInput) (domain.Resource, error) {
	spec, err := lookup(ownerID, kind)
	if err != nil {
		return domain.Resource{}, err
	}
	now := s.now()
	r := domain.Resource{
		Base:        domain.Base{ID: s.newID(), OwnerID: ownerID, CreatedAt: now},
		Kind:        kind,
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		Amount:      in.Amount,
		Attributes:  cleanAttributes(in.Attributes),
		UpdatedAt:   now,
	}
	file, err := s.readFile(in.File)
	if err != nil {
		return domain.Resource{}, err
	}
	if err := spec.Validate(r, file != nil); err != nil {
		return domain.Resource{}, err
	}
	var created domain.Resource
	err = observability.Track(ctx, s.metrics, "resource.create", func() error {
		var err error
		created, err = s.create(ctx, r, file)
		return err
	})
	return created, err
}

func (s *Service) create(ctx context.Context, r domain.Resource, file *upload) (domain.Resource, error) {
	log := logging.FromContext(ctx).WithFields(logrus.Fields{"kind": r.Kind, "resource_id": r.ID})
	tx := saga.New("resource.create", saga.WithLogger(log), saga.WithRollbackFailureHook(s.rollbackFailed))
	if file != nil {
		key := ObjectKey(r.OwnerID, s.newID(), file.name)
		tx.Then(saga.Step{
			Name: "upload",
			Forward: func(ctx context.Context) error {
				info, err := s.blobs.Put(ctx, key, bytes.NewReader(file.data), blob.PutOptions{
					ContentType: file.contentType,
					Metadata:    map[string]string{"owner": r.OwnerID, "kind": string(r.Kind)},
				})
				if err != nil {
					return err
				}
				r.FilePath, r.FileName, r.ContentType, r.FileSize = key, file.name, file.contentType, info.Size
				return nil
			},
			Reverse: func(ctx context.Context) error {
				_, err := s.blobs.Delete(ctx, key)
				return err
			},
		})
	}
	var created domain.Resource
	tx.Then(saga.Step{
		Name: "insert",
		Forward: func(ctx context.Context) error {
			var err error
			created, err = s.store.InsertResource(ctx, r)
			return err
		},
	})
	if err := tx.Run(ctx); err != nil {
		return domain.Resource{}, fmt.Errorf("resource: create %s: %w: %w", r.Kind, domain.ErrInternal, err)
	}
	log.Info("resource created")
	return created, nil
}

// Get returns an owned resource.
func (s *Service) Get(ctx context.Context, ownerID string, kind domain.ResourceKind, id string) (domain.Resource, error) {
	if _, err := lookup(ownerID, kind); err != nil {
		return domain.Resource{}, err
	}
	r, err := s.store.GetResource(ctx, ownerID, kind, id)
	if err != nil {
		return domain.Resource{}, passNotFound("get", err)
	}
	return r, nil
}

// List returns the owner's resources of kind.
func (s *Service) List(ctx context.Context, ownerID string, kind domain.ResourceKind) ([]domain.Resource, error) {
	if _, err := lookup(ownerID, kind); err != nil {
		return nil, err
	}
	out, err := s.store.ListResources(ctx, ownerID, kind)
	if err != nil {
		return nil, fmt.Errorf("resource: list: %w: %w", domain.ErrInternal, err)
	}
	return out, nil
}

// Update applies patch to an owned resource and revalidates it.
func (s *Service) Update(ctx context.Context, ownerID string, kind domain.ResourceKind, id string, patch domain.ResourcePatch) (domain.Resource, error) {
	spec, err := lookup(ownerID, kind)
	if err != nil {
		return domain.Resource{}, err
	}
	current, err := s.store.GetResource(ctx, ownerID, kind, id)
	if err != nil {
		return domain.Resource{}, passNotFound("get", err)
	}
	patch.Apply(&current)
	current.Title = strings.TrimSpace(current.Title)
	if err := spec.Validate(current, current.HasFile()); err != nil {
		return domain.Resource{}, err
	}
	current.UpdatedAt = s.now()
	updated, err := s.store.UpdateResource(ctx, current)
	if err != nil {
		return domain.Resource{}, passNotFound("update", err)
	}
	return updated, nil
}

// Delete verifies ownership, deletes the row and then removes the file best
// effort. Deleting twice yields NotFound.
func (s *Service) Delete(ctx context.Context, ownerID string, kind domain.ResourceKind, id string) error {
	if _, err := lookup(ownerID, kind); err != nil {
		return err
	}
	return observability.Track(ctx, s.metrics, "resource.delete", func() error {
		return s.delete(ctx, ownerID, kind, id)
	})
}

func (s *Service) delete(ctx context.Context, ownerID string, kind domain.ResourceKind, id string) error {
	log := logging.FromContext(ctx).WithFields(logrus.Fields{"kind": kind, "resource_id": id})
	var existing domain.Resource
	tx := saga.New("resource.delete", saga.WithLogger(log), saga.WithRollbackFailureHook(s.rollbackFailed)).
		Then(saga.Step{
			Name: "verify",
			Forward: func(ctx context.Context) error {
				var err error
				existing, err = s.store.GetResource(ctx, ownerID, kind, id)
				return err
			},
		}).
		Then(saga.Step{
			Name: "row",
			Forward: func(ctx context.Context) error {
				n, err := s.store.DeleteResource(ctx, ownerID, kind, id)
				if err != nil {
					return err
				}
				if n == 0 {
					return domain.NotFoundError{Entity: string(kind), ID: id}
				}
				return nil
			},
		}).
		Then(saga.Step{
			Name:       "file",
			BestEffort: true,
			Forward: func(ctx context.Context) error {
				if !existing.HasFile() {
					return nil
				}
				_, err := s.blobs.Delete(ctx, existing.FilePath)
				return err
			},
		})
	if err := tx.Run(ctx); err != nil {
		return passNotFound("delete", err)
	}
	log.Info("resource deleted")
	return nil
}

// FileURL returns a URL for the resource's file: presigned when the driver
// signs, else the public URL. blob.ErrUnsupported means the caller must
// stream the file through OpenFile.
func (s *Service) FileURL(ctx context.Context, ownerID string, kind domain.ResourceKind, id string) (string, error) {
	r, err := s.fileResource(ctx, ownerID, kind, id)
	if err != nil {
		return "", err
	}
	u, err := s.blobs.PresignURL(ctx, r.FilePath, blob.SignedURLOptions{Expiry: s.urlExpiry})
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, blob.ErrUnsupported) {
		return "", fmt.Errorf("resource: presign: %w: %w", domain.ErrInternal, err)
	}
	if u := s.blobs.PublicURL(r.FilePath); u != "" {
		return u, nil
	}
	return "", blob.ErrUnsupported
}

// OpenFile streams the resource's file. The caller closes the reader.
func (s *Service) OpenFile(ctx context.Context, ownerID string, kind domain.ResourceKind, id string) (domain.Resource, io.ReadCloser, error) {
	r, err := s.fileResource(ctx, ownerID, kind, id)
	if err != nil {
		return domain.Resource{}, nil, err
	}
	_, rc, err := s.blobs.Get(ctx, r.FilePath)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return domain.Resource{}, nil, domain.NotFoundError{Entity: "file", ID: id}
		}
		return domain.Resource{}, nil, fmt.Errorf("resource: open file: %w: %w", domain.ErrInternal, err)
	}
	return r, rc, nil
}

func (s *Service) fileResource(ctx context.Context, ownerID string, kind domain.ResourceKind, id string) (domain.Resource, error) {
	r, err := s.Get(ctx, ownerID, kind, id)
	if err != nil {
		return domain.Resource{}, err
	}
	if !r.HasFile() {
		return domain.Resource{}, domain.NotFoundError{Entity: "file", ID: id}
	}
	return r, nil
}

func (s *Service) rollbackFailed(tx, step string, _ error) { s.metrics.RollbackFailed(tx, step) }

// ObjectKey builds the storage key {owner}/{token}-{filename}.
func ObjectKey(ownerID, token, filename string) string {
	return path.Join(ownerID, token+"-"+SanitizeFilename(filename))
}

// SanitizeFilename keeps the base name and replaces characters outside
// letters, digits, '.', '-' and '_' with '_'.
func SanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "file"
	}
	return out
}

func cleanAttributes(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k != "" && v != "" {
			out[k] = v
		}
	}
	return out
}

func passNotFound(op string, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return fmt.Errorf("resource: %s: %w: %w", op, domain.ErrInternal, err)
}
