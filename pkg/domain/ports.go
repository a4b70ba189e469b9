package domain

import "context"

// WithdrawalGuard inspects an intake and its prior withdrawals and returns a
// non-nil error to veto the pending withdrawal.
type WithdrawalGuard func(intake StockIntake, prior []StockWithdrawal) error

// LedgerStore persists intakes and withdrawals.
type LedgerStore interface {
	InsertIntake(ctx context.Context, intake StockIntake) (StockIntake, error)
	// GetIntake returns NotFoundError unless both id and owner match.
	GetIntake(ctx context.Context, ownerID, id string) (StockIntake, error)
	ListIntakes(ctx context.Context, ownerID string) ([]StockIntake, error)
	ListWithdrawals(ctx context.Context, intakeID string) ([]StockWithdrawal, error)
	// AppendWithdrawal loads the owned intake referenced by w together with
	// its withdrawals, runs guard and inserts w only when guard returns nil.
	// Implementations serialise concurrent appends against the same intake.
	AppendWithdrawal(ctx context.Context, ownerID string, w StockWithdrawal, guard WithdrawalGuard) (StockWithdrawal, error)
}

// InstitutionStore persists the rows that depend on a registered identity.
type InstitutionStore interface {
	InsertAddress(ctx context.Context, addr Address) (Address, error)
	InsertPhone(ctx context.Context, phone Phone) (Phone, error)
	GetAddress(ctx context.Context, ownerID string) (Address, error)
	ListPhones(ctx context.Context, ownerID string) ([]Phone, error)
}

// ResourceStore persists managed resources. Every lookup is scoped by owner and kind.
type ResourceStore interface {
	InsertResource(ctx context.Context, r Resource) (Resource, error)
	GetResource(ctx context.Context, ownerID string, kind ResourceKind, id string) (Resource, error)
	ListResources(ctx context.Context, ownerID string, kind ResourceKind) ([]Resource, error)
	UpdateResource(ctx context.Context, r Resource) (Resource, error)
	// DeleteResource removes the owned row and reports how many rows matched.
	DeleteResource(ctx context.Context, ownerID string, kind ResourceKind, id string) (int64, error)
}

// IdentityRecord is the stored form of an Identity.
type IdentityRecord struct {
	Identity
	PasswordHash string `json:"-"`
}

// IdentityStore backs the bundled identity provider. InsertIdentity returns
// ErrConflict when the email is already registered.
type IdentityStore interface {
	InsertIdentity(ctx context.Context, rec IdentityRecord) (IdentityRecord, error)
	GetIdentity(ctx context.Context, id string) (IdentityRecord, error)
	GetIdentityByEmail(ctx context.Context, email string) (IdentityRecord, error)
	DeleteIdentity(ctx context.Context, id string) (int64, error)
}

// PersistentStore is the full row store handed to services at startup.
type PersistentStore interface {
	LedgerStore
	InstitutionStore
	ResourceStore
	IdentityStore
	Close() error
}

// IdentityProvider creates and verifies institution accounts.
type IdentityProvider interface {
	// CreateIdentity returns ErrConflict when email is taken.
	CreateIdentity(ctx context.Context, email, password string, attrs map[string]string) (Identity, error)
	DeleteIdentity(ctx context.Context, id string) error
	// VerifyToken returns the identity id carried by a valid token.
	VerifyToken(ctx context.Context, token string) (string, error)
	LookupByEmail(ctx context.Context, email string) (Identity, error)
	GetIdentity(ctx context.Context, id string) (Identity, error)
	// Authenticate checks credentials and issues an access token.
	Authenticate(ctx context.Context, email, password string) (string, error)
}
