package core

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"donationcore/internal/blob"
	"donationcore/internal/config"
	"donationcore/internal/infra/identity"
	"donationcore/internal/institution"
	"donationcore/internal/ledger"
	"donationcore/internal/observability"
	"donationcore/internal/resource"
	"donationcore/pkg/domain"
)

// Services holds the handles created once at startup.
type Services struct {
	Store        PersistentStore
	Blobs        blob.Store
	Identities   domain.IdentityProvider
	Metrics      observability.Recorder
	Ledger       *ledger.Engine
	Institutions *institution.Service
	Resources    *resource.Service

	ownsStore bool
}

// Option adjusts service construction.
type Option func(*options)

type options struct {
	store    PersistentStore
	blobs    blob.Store
	registry prometheus.Registerer
}

// WithStore supplies an already opened row store instead of opening one from config.
func WithStore(s PersistentStore) Option { return func(o *options) { o.store = s } }

// WithBlobStore supplies an object store instead of opening one from config.
func WithBlobStore(b blob.Store) Option { return func(o *options) { o.blobs = b } }

// WithRegistry registers metrics on reg instead of the default registerer.
func WithRegistry(reg prometheus.Registerer) Option { return func(o *options) { o.registry = reg } }

// NewServices opens the configured backends and wires the services. The
// caller owns the result and must call Close; stores passed with WithStore
// stay open.
func NewServices(ctx context.Context, cfg config.Config, opts ...Option) (*Services, error) {
	o := options{registry: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.RequireSecret(); err != nil {
		return nil, err
	}
	metrics, err := observability.NewPrometheusRecorder(o.registry, cfg.MetricsNamespace)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	store, owned := o.store, false
	if store == nil {
		if store, err = OpenPersistentStore(ctx, cfg); err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		owned = true
	}
	// Supplied stores belong to the caller and are never closed here.
	release := func() {
		if owned {
			_ = store.Close()
		}
	}
	blobs := o.blobs
	if blobs == nil {
		if blobs, err = blob.Open(ctx, cfg.Blob); err != nil {
			release()
			return nil, fmt.Errorf("open blob store: %w", err)
		}
	}
	provider, err := identity.NewProvider(store, cfg.JWTSecret, identity.WithTTL(cfg.TokenTTL))
	if err != nil {
		release()
		return nil, fmt.Errorf("identity provider: %w", err)
	}
	return &Services{
		ownsStore:    owned,
		Store:        store,
		Blobs:        blobs,
		Identities:   provider,
		Metrics:      metrics,
		Ledger:       ledger.NewEngine(store, ledger.WithMetrics(metrics)),
		Institutions: institution.NewService(provider, store, metrics),
		Resources: resource.NewService(store, blobs,
			resource.WithMetrics(metrics),
			resource.WithMaxFileSize(cfg.MaxUploadSize),
			resource.WithURLExpiry(cfg.FileURLExpiry),
		),
	}, nil
}

// Close releases the row store when NewServices opened it.
func (s *Services) Close() error {
	if s == nil || s.Store == nil || !s.ownsStore {
		return nil
	}
	return s.Store.Close()
}
