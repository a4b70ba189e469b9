package institution

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"donationcore/internal/infra/identity"
	"donationcore/internal/infra/persistence/memory"
	"donationcore/internal/logging"
	"donationcore/internal/observability"
	"donationcore/pkg/domain"
)

type faultyStore struct {
	*memory.Store
	phoneErr   error
	addressErr error
}

func (f *faultyStore) InsertPhone(ctx context.Context, p domain.Phone) (domain.Phone, error) {
	if f.phoneErr != nil {
		return domain.Phone{}, f.phoneErr
	}
	return f.Store.InsertPhone(ctx, p)
}

func (f *faultyStore) InsertAddress(ctx context.Context, a domain.Address) (domain.Address, error) {
	if f.addressErr != nil {
		return domain.Address{}, f.addressErr
	}
	return f.Store.InsertAddress(ctx, a)
}

type stickyProvider struct {
	domain.IdentityProvider
	deleteErr error
}

func (s stickyProvider) DeleteIdentity(context.Context, string) error { return s.deleteErr }

type rollbackCounter struct {
	observability.NoopRecorder
	failures []string
}

func (r *rollbackCounter) RollbackFailed(tx, step string) { r.failures = append(r.failures, tx+"/"+step) }

func validInput(email string) RegistrationInput {
	return RegistrationInput{
		Email:    email,
		Password: "segredo123",
		Name:     "Instituto Mãos Dadas",
		Document: "12.345.678/0001-90",
		Address: AddressInput{
			Street: "Rua da Aurora", Number: "100", District: "Boa Vista",
			City: "Recife", State: "PE", PostalCode: "50050-000",
		},
		Phones: []PhoneInput{{Number: "+55 81 3333-0000", Label: "secretaria"}},
	}
}

func newFixture(t *testing.T) (*faultyStore, *identity.Provider) {
	t.Helper()
	store := &faultyStore{Store: memory.NewStore()}
	provider, err := identity.NewProvider(store, "0123456789abcdef0123456789abcdef", identity.WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)
	return store, provider
}

func TestRegisterCreatesIdentityAddressAndPhones(t *testing.T) {
	store, provider := newFixture(t)
	svc := NewService(provider, store, nil)
	ctx := context.Background()

	inst, err := svc.Register(ctx, validInput("contato@maosdadas.org"))
	require.NoError(t, err)
	require.NotEmpty(t, inst.Identity.ID)
	assert.Equal(t, "Instituto Mãos Dadas", inst.Identity.Attributes[AttrName])

	profile, err := svc.Profile(ctx, inst.Identity.ID)
	require.NoError(t, err)
	require.NotNil(t, profile.Address)
	assert.Equal(t, "Recife", profile.Address.City)
	require.Len(t, profile.Phones, 1)
	assert.Equal(t, "secretaria", profile.Phones[0].Label)
}

func TestRegisterValidatesBeforeCreatingIdentity(t *testing.T) {
	store, provider := newFixture(t)
	svc := NewService(provider, store, nil)

	in := validInput("a@b.org")
	in.Address.City = " "
	_, err := svc.Register(context.Background(), in)
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	in = validInput("a@b.org")
	in.Phones = nil
	_, err = svc.Register(context.Background(), in)
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = provider.LookupByEmail(context.Background(), "a@b.org")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRegisterRollsBackIdentityWhenPhoneInsertFails(t *testing.T) {
	store, provider := newFixture(t)
	store.phoneErr = errors.New("phones table unavailable")
	svc := NewService(provider, store, nil)
	ctx := context.Background()

	_, err := svc.Register(ctx, validInput("rollback@example.org"))
	require.ErrorIs(t, err, domain.ErrInternal)
	require.ErrorIs(t, err, store.phoneErr)

	_, err = provider.LookupByEmail(ctx, "rollback@example.org")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRegisterRollsBackIdentityWhenAddressInsertFails(t *testing.T) {
	store, provider := newFixture(t)
	store.addressErr = errors.New("address insert failed")
	svc := NewService(provider, store, nil)

	_, err := svc.Register(context.Background(), validInput("addr@example.org"))
	require.ErrorIs(t, err, store.addressErr)
	_, err = provider.LookupByEmail(context.Background(), "addr@example.org")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRegisterDuplicateEmailConflictsAndKeepsOneIdentity(t *testing.T) {
	store, provider := newFixture(t)
	svc := NewService(provider, store, nil)
	ctx := context.Background()

	first, err := svc.Register(ctx, validInput("dup@example.org"))
	require.NoError(t, err)
	_, err = svc.Register(ctx, validInput("DUP@example.org"))
	require.ErrorIs(t, err, domain.ErrConflict)
	assert.Contains(t, err.Error(), "E-mail já cadastrado.")

	found, err := provider.LookupByEmail(ctx, "dup@example.org")
	require.NoError(t, err)
	assert.Equal(t, first.Identity.ID, found.ID)
	profile, err := svc.Profile(ctx, first.Identity.ID)
	require.NoError(t, err)
	assert.Len(t, profile.Phones, 1)
}

func TestRegisterRollbackFailureIsCriticalButOriginalErrorWins(t *testing.T) {
	store, provider := newFixture(t)
	store.phoneErr = errors.New("phone insert failed")
	metrics := &rollbackCounter{}
	svc := NewService(stickyProvider{IdentityProvider: provider, deleteErr: errors.New("auth service down")}, store, metrics)

	logger, hook := logtest.NewNullLogger()
	ctx := logging.WithLogger(context.Background(), logrus.NewEntry(logger))
	_, err := svc.Register(ctx, validInput("orphan@example.org"))
	require.ErrorIs(t, err, store.phoneErr)
	assert.NotContains(t, err.Error(), "auth service down")
	assert.Equal(t, []string{"institution.register/identity"}, metrics.failures)

	var critical bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel && e.Data["severity"] == "critical" {
			critical = true
		}
	}
	assert.True(t, critical)
}

func TestProfileRequiresOwner(t *testing.T) {
	store, provider := newFixture(t)
	svc := NewService(provider, store, nil)
	_, err := svc.Profile(context.Background(), "")
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = svc.Profile(context.Background(), "unknown")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
