// Package identity is the bundled identity provider: bcrypt password hashes
// kept in the row store and HS256 access tokens whose subject is the
// institution id.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"donationcore/pkg/domain"
)

var _ domain.IdentityProvider = (*Provider)(nil)

const (
	defaultTTL    = 12 * time.Hour
	defaultIssuer = "donationcore"
	// MinPasswordLength is the shortest accepted password.
	MinPasswordLength = 6
	// MaxPasswordLength is the longest password bcrypt can hash, in bytes.
	MaxPasswordLength = 72
)

// Provider implements domain.IdentityProvider over a domain.IdentityStore.
type Provider struct {
	store  domain.IdentityStore
	secret []byte
	issuer string
	ttl    time.Duration
	cost   int
	now    func() time.Time
	newID  func() string
}

// Option configures a Provider.
type Option func(*Provider)

// WithTTL sets the access token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(p *Provider) {
		if ttl > 0 {
			p.ttl = ttl
		}
	}
}

// WithIssuer sets the token issuer claim.
func WithIssuer(iss string) Option { return func(p *Provider) { p.issuer = iss } }

// WithBcryptCost overrides the hashing cost; tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option { return func(p *Provider) { p.cost = cost } }

// WithClock overrides the time source used for issued-at and expiry.
func WithClock(now func() time.Time) Option { return func(p *Provider) { p.now = now } }

// NewProvider returns a provider signing tokens with secret.
func NewProvider(store domain.IdentityStore, secret string, opts ...Option) (*Provider, error) {
	if len(secret) < 16 {
		return nil, errors.New("identity: token secret must be at least 16 bytes")
	}
	p := &Provider{
		store:  store,
		secret: []byte(secret),
		issuer: defaultIssuer,
		ttl:    defaultTTL,
		cost:   bcrypt.DefaultCost,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// CreateIdentity hashes password and stores a new identity.
func (p *Provider) CreateIdentity(ctx context.Context, email, password string, attrs map[string]string) (domain.Identity, error) {
	email = strings.TrimSpace(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return domain.Identity{}, domain.Invalid("email", "e-mail inválido")
	}
	if len(password) < MinPasswordLength {
		return domain.Identity{}, domain.Invalid("password", fmt.Sprintf("deve ter ao menos %d caracteres", MinPasswordLength))
	}
	if len(password) > MaxPasswordLength {
		return domain.Identity{}, domain.Invalid("password", fmt.Sprintf("deve ter no máximo %d bytes", MaxPasswordLength))
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("identity: hash password: %w", err)
	}
	rec, err := p.store.InsertIdentity(ctx, domain.IdentityRecord{
		Identity: domain.Identity{
			ID:         p.newID(),
			Email:      email,
			Attributes: attrs,
			CreatedAt:  p.now(),
		},
		PasswordHash: string(hash),
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return domain.Identity{}, fmt.Errorf("identity: insert %s: %w", email, &domain.ConflictError{Field: "email", Message: "E-mail já cadastrado."})
		}
		return domain.Identity{}, fmt.Errorf("identity: insert: %w", err)
	}
	return rec.Identity, nil
}

// DeleteIdentity removes the identity; NotFound when nothing matched.
func (p *Provider) DeleteIdentity(ctx context.Context, id string) error {
	n, err := p.store.DeleteIdentity(ctx, id)
	if err != nil {
		return fmt.Errorf("identity: delete: %w", err)
	}
	if n == 0 {
		return domain.NotFoundError{Entity: "identity", ID: id}
	}
	return nil
}

// LookupByEmail returns the identity registered with email.
func (p *Provider) LookupByEmail(ctx context.Context, email string) (domain.Identity, error) {
	rec, err := p.store.GetIdentityByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return domain.Identity{}, err
	}
	return rec.Identity, nil
}

// GetIdentity returns the identity with id.
func (p *Provider) GetIdentity(ctx context.Context, id string) (domain.Identity, error) {
	rec, err := p.store.GetIdentity(ctx, id)
	if err != nil {
		return domain.Identity{}, err
	}
	return rec.Identity, nil
}

// Authenticate verifies the password and issues a signed token.
func (p *Provider) Authenticate(ctx context.Context, email, password string) (string, error) {
	rec, err := p.store.GetIdentityByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", fmt.Errorf("identity: invalid credentials: %w", domain.ErrUnauthorized)
		}
		return "", fmt.Errorf("identity: lookup: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(password)); err != nil {
		return "", fmt.Errorf("identity: invalid credentials: %w", domain.ErrUnauthorized)
	}
	return p.issue(rec.ID)
}

func (p *Provider) issue(subject string) (string, error) {
	now := p.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    p.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
		ID:        p.newID(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("identity: sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken validates signature, expiry and issuer, and checks that the
// subject still exists.
func (p *Provider) VerifyToken(ctx context.Context, token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return p.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("identity: invalid token: %v: %w", err, domain.ErrUnauthorized)
	}
	if !claims.VerifyIssuer(p.issuer, true) || claims.Subject == "" {
		return "", fmt.Errorf("identity: invalid token claims: %w", domain.ErrUnauthorized)
	}
	if _, err := p.store.GetIdentity(ctx, claims.Subject); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", fmt.Errorf("identity: unknown subject: %w", domain.ErrUnauthorized)
		}
		return "", fmt.Errorf("identity: lookup subject: %w", err)
	}
	return claims.Subject, nil
}
