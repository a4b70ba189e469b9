// Package memory provides an in-memory implementation of the donationcore
// row store used for tests and ephemeral environments.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"donationcore/pkg/domain"
)

// Compile-time contract assertion ensuring Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type memoryState struct {
	intakes     map[string]domain.StockIntake
	withdrawals map[string][]domain.StockWithdrawal // keyed by intake id
	addresses   map[string]domain.Address           // keyed by owner id
	phones      map[string][]domain.Phone           // keyed by owner id
	resources   map[string]domain.Resource
	identities  map[string]domain.IdentityRecord
	emails      map[string]string // lower(email) -> identity id
}

// Store keeps every table in process memory behind a single RWMutex.
// AppendWithdrawal holds the write lock across the guard and the insert, so
// concurrent withdrawals against one intake are serialised.
type Store struct {
	mu    sync.RWMutex
	state memoryState
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{state: memoryState{
		intakes:     make(map[string]domain.StockIntake),
		withdrawals: make(map[string][]domain.StockWithdrawal),
		addresses:   make(map[string]domain.Address),
		phones:      make(map[string][]domain.Phone),
		resources:   make(map[string]domain.Resource),
		identities:  make(map[string]domain.IdentityRecord),
		emails:      make(map[string]string),
	}}
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// InsertIntake stores intake.
func (s *Store) InsertIntake(_ context.Context, intake domain.StockIntake) (domain.StockIntake, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.state.intakes[intake.ID]; exists {
		return domain.StockIntake{}, domain.ErrConflict
	}
	s.state.intakes[intake.ID] = intake
	return intake, nil
}

// GetIntake returns the intake when id and owner both match.
func (s *Store) GetIntake(_ context.Context, ownerID, id string) (domain.StockIntake, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ownedIntake(ownerID, id)
}

func (s *Store) ownedIntake(ownerID, id string) (domain.StockIntake, error) {
	intake, ok := s.state.intakes[id]
	if !ok || intake.OwnerID != ownerID {
		return domain.StockIntake{}, domain.NotFoundError{Entity: "intake", ID: id}
	}
	return intake, nil
}

// ListIntakes returns the intakes of ownerID ordered by RecordedAt then id.
func (s *Store) ListIntakes(_ context.Context, ownerID string) ([]domain.StockIntake, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.StockIntake, 0)
	for _, intake := range s.state.intakes {
		if intake.OwnerID == ownerID {
			out = append(out, intake)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RecordedAt.Equal(out[j].RecordedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RecordedAt.Before(out[j].RecordedAt)
	})
	return out, nil
}

// ListWithdrawals returns the withdrawals recorded against intakeID in insertion order.
func (s *Store) ListWithdrawals(_ context.Context, intakeID string) ([]domain.StockWithdrawal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneWithdrawals(s.state.withdrawals[intakeID]), nil
}

// AppendWithdrawal runs guard and inserts w under the store's write lock.
func (s *Store) AppendWithdrawal(_ context.Context, ownerID string, w domain.StockWithdrawal, guard domain.WithdrawalGuard) (domain.StockWithdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	intake, err := s.ownedIntake(ownerID, w.IntakeID)
	if err != nil {
		return domain.StockWithdrawal{}, err
	}
	prior := s.state.withdrawals[intake.ID]
	if guard != nil {
		if err := guard(intake, cloneWithdrawals(prior)); err != nil {
			return domain.StockWithdrawal{}, err
		}
	}
	s.state.withdrawals[intake.ID] = append(prior, w)
	return w, nil
}

// InsertAddress stores the address of an owner, replacing none.
func (s *Store) InsertAddress(_ context.Context, addr domain.Address) (domain.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.state.addresses[addr.OwnerID]; exists {
		return domain.Address{}, domain.ErrConflict
	}
	s.state.addresses[addr.OwnerID] = addr
	return addr, nil
}

// InsertPhone appends a phone to an owner.
func (s *Store) InsertPhone(_ context.Context, phone domain.Phone) (domain.Phone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.phones[phone.OwnerID] = append(s.state.phones[phone.OwnerID], phone)
	return phone, nil
}

// GetAddress returns the owner's address.
func (s *Store) GetAddress(_ context.Context, ownerID string) (domain.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	addr, ok := s.state.addresses[ownerID]
	if !ok {
		return domain.Address{}, domain.NotFoundError{Entity: "address", ID: ownerID}
	}
	return addr, nil
}

// ListPhones returns the owner's phones.
func (s *Store) ListPhones(_ context.Context, ownerID string) ([]domain.Phone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Phone, len(s.state.phones[ownerID]))
	copy(out, s.state.phones[ownerID])
	return out, nil
}

// InsertResource stores r.
func (s *Store) InsertResource(_ context.Context, r domain.Resource) (domain.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.state.resources[r.ID]; exists {
		return domain.Resource{}, domain.ErrConflict
	}
	s.state.resources[r.ID] = cloneResource(r)
	return cloneResource(r), nil
}

// GetResource returns the resource when owner, kind and id match.
func (s *Store) GetResource(_ context.Context, ownerID string, kind domain.ResourceKind, id string) (domain.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.state.resources[id]
	if !ok || r.OwnerID != ownerID || r.Kind != kind {
		return domain.Resource{}, domain.NotFoundError{Entity: string(kind), ID: id}
	}
	return cloneResource(r), nil
}

// ListResources returns the owner's resources of kind, newest first.
func (s *Store) ListResources(_ context.Context, ownerID string, kind domain.ResourceKind) ([]domain.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Resource, 0)
	for _, r := range s.state.resources {
		if r.OwnerID == ownerID && r.Kind == kind {
			out = append(out, cloneResource(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// UpdateResource replaces the mutable fields of an owned resource.
func (s *Store) UpdateResource(_ context.Context, r domain.Resource) (domain.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.state.resources[r.ID]
	if !ok || current.OwnerID != r.OwnerID || current.Kind != r.Kind {
		return domain.Resource{}, domain.NotFoundError{Entity: string(r.Kind), ID: r.ID}
	}
	current.Title = r.Title
	current.Description = r.Description
	current.Amount = r.Amount
	current.Attributes = r.Attributes
	current.UpdatedAt = r.UpdatedAt
	s.state.resources[r.ID] = cloneResource(current)
	return cloneResource(current), nil
}

// DeleteResource removes an owned resource and reports the affected count.
func (s *Store) DeleteResource(_ context.Context, ownerID string, kind domain.ResourceKind, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.state.resources[id]
	if !ok || r.OwnerID != ownerID || r.Kind != kind {
		return 0, nil
	}
	delete(s.state.resources, id)
	return 1, nil
}

// InsertIdentity stores rec; emails are unique case-insensitively.
func (s *Store) InsertIdentity(_ context.Context, rec domain.IdentityRecord) (domain.IdentityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(rec.Email)
	if _, taken := s.state.emails[key]; taken {
		return domain.IdentityRecord{}, domain.ErrConflict
	}
	if _, taken := s.state.identities[rec.ID]; taken {
		return domain.IdentityRecord{}, domain.ErrConflict
	}
	rec.Attributes = cloneAttrs(rec.Attributes)
	s.state.identities[rec.ID] = rec
	s.state.emails[key] = rec.ID
	return rec, nil
}

// GetIdentity returns the identity with id.
func (s *Store) GetIdentity(_ context.Context, id string) (domain.IdentityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.state.identities[id]
	if !ok {
		return domain.IdentityRecord{}, domain.NotFoundError{Entity: "identity", ID: id}
	}
	rec.Attributes = cloneAttrs(rec.Attributes)
	return rec, nil
}

// GetIdentityByEmail returns the identity registered with email.
func (s *Store) GetIdentityByEmail(ctx context.Context, email string) (domain.IdentityRecord, error) {
	s.mu.RLock()
	id, ok := s.state.emails[strings.ToLower(email)]
	s.mu.RUnlock()
	if !ok {
		return domain.IdentityRecord{}, domain.NotFoundError{Entity: "identity", ID: email}
	}
	return s.GetIdentity(ctx, id)
}

// DeleteIdentity removes the identity, its email index entry and the
// address and phones it owns.
func (s *Store) DeleteIdentity(_ context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.state.identities[id]
	if !ok {
		return 0, nil
	}
	delete(s.state.identities, id)
	delete(s.state.emails, strings.ToLower(rec.Email))
	delete(s.state.addresses, id)
	delete(s.state.phones, id)
	return 1, nil
}

func cloneWithdrawals(in []domain.StockWithdrawal) []domain.StockWithdrawal {
	out := make([]domain.StockWithdrawal, len(in))
	copy(out, in)
	return out
}

func cloneResource(r domain.Resource) domain.Resource {
	r.Attributes = cloneAttrs(r.Attributes)
	if r.Amount != nil {
		amt := *r.Amount
		r.Amount = &amt
	}
	return r
}

func cloneAttrs(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
