// Package institution registers institution accounts and reads their profile.
package institution

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"donationcore/internal/logging"
	"donationcore/internal/observability"
	"donationcore/internal/saga"
	"donationcore/pkg/domain"
)

// Attribute keys stored on the identity.
const (
	AttrName     = "name"
	AttrDocument = "document"
)

// AddressInput is the postal address supplied at registration.
type AddressInput struct {
	Street     string
	Number     string
	Complement string
	District   string
	City       string
	State      string
	PostalCode string
}

// PhoneInput is one contact number supplied at registration.
type PhoneInput struct {
	Number string
	Label  string
}

// RegistrationInput carries everything needed to create an institution.
type RegistrationInput struct {
	Email    string
	Password string
	Name     string
	Document string
	Address  AddressInput
	Phones   []PhoneInput
}

// Service owns the registration transaction.
type Service struct {
	identities domain.IdentityProvider
	store      domain.InstitutionStore
	metrics    observability.Recorder
}

// NewService wires the identity provider and the row store.
func NewService(identities domain.IdentityProvider, store domain.InstitutionStore, metrics observability.Recorder) *Service {
	if metrics == nil {
		metrics = observability.NoopRecorder{}
	}
	return &Service{identities: identities, store: store, metrics: metrics}
}

func (in RegistrationInput) validate() error {
	required := []struct{ field, value string }{
		{"email", in.Email},
		{"password", in.Password},
		{"name", in.Name},
		{"address.street", in.Address.Street},
		{"address.number", in.Address.Number},
		{"address.district", in.Address.District},
		{"address.city", in.Address.City},
		{"address.state", in.Address.State},
		{"address.postal_code", in.Address.PostalCode},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return domain.Invalid(r.field, "campo obrigatório")
		}
	}
	if len(in.Phones) == 0 {
		return domain.Invalid("phones", "informe ao menos um telefone")
	}
	for i, p := range in.Phones {
		if strings.TrimSpace(p.Number) == "" {
			return domain.Invalid(fmt.Sprintf("phones[%d].number", i), "campo obrigatório")
		}
	}
	return nil
}

// Register creates the identity, then its address, then its phones. When a
// dependent insert fails the identity is deleted again and the dependent
// error is returned as ErrInternal. Identity errors (Conflict, InvalidInput)
// are returned unchanged.
func (s *Service) Register(ctx context.Context, in RegistrationInput) (domain.Institution, error) {
	if err := in.validate(); err != nil {
		return domain.Institution{}, err
	}
	var out domain.Institution
	err := observability.Track(ctx, s.metrics, "institution.register", func() error {
		var err error
		out, err = s.register(ctx, in)
		return err
	})
	return out, err
}

func (s *Service) register(ctx context.Context, in RegistrationInput) (domain.Institution, error) {
	log := logging.FromContext(ctx)
	var result domain.Institution
	attrs := map[string]string{AttrName: strings.TrimSpace(in.Name)}
	if doc := strings.TrimSpace(in.Document); doc != "" {
		attrs[AttrDocument] = doc
	}

	tx := saga.New("institution.register",
		saga.WithLogger(log),
		saga.WithRollbackFailureHook(func(name, step string, _ error) { s.metrics.RollbackFailed(name, step) }),
	)
	tx.Then(saga.Step{
		Name: "identity",
		Forward: func(ctx context.Context) error {
			id, err := s.identities.CreateIdentity(ctx, in.Email, in.Password, attrs)
			if err != nil {
				return err
			}
			result.Identity = id
			return nil
		},
		Reverse: func(ctx context.Context) error {
			return s.identities.DeleteIdentity(ctx, result.Identity.ID)
		},
	})
	// Address and phones go away with the identity, so they need no reverse.
	tx.Then(saga.Step{
		Name: "address",
		Forward: func(ctx context.Context) error {
			addr, err := s.store.InsertAddress(ctx, domain.Address{
				OwnerID:    result.Identity.ID,
				Street:     strings.TrimSpace(in.Address.Street),
				Number:     strings.TrimSpace(in.Address.Number),
				Complement: strings.TrimSpace(in.Address.Complement),
				District:   strings.TrimSpace(in.Address.District),
				City:       strings.TrimSpace(in.Address.City),
				State:      strings.TrimSpace(in.Address.State),
				PostalCode: strings.TrimSpace(in.Address.PostalCode),
			})
			if err != nil {
				return err
			}
			result.Address = &addr
			return nil
		},
	})
	for i, p := range in.Phones {
		tx.Then(saga.Step{
			Name: fmt.Sprintf("phone[%d]", i),
			Forward: func(ctx context.Context) error {
				phone, err := s.store.InsertPhone(ctx, domain.Phone{
					OwnerID: result.Identity.ID,
					Number:  strings.TrimSpace(p.Number),
					Label:   strings.TrimSpace(p.Label),
				})
				if err != nil {
					return err
				}
				result.Phones = append(result.Phones, phone)
				return nil
			},
		})
	}

	if err := tx.Run(ctx); err != nil {
		if tx.State() == saga.StateAborted {
			return domain.Institution{}, err
		}
		return domain.Institution{}, fmt.Errorf("institution: register: %w: %w", domain.ErrInternal, err)
	}
	log.WithFields(logrus.Fields{"institution_id": result.Identity.ID}).Info("institution registered")
	return result, nil
}

// Profile returns the identity with its address and phones.
func (s *Service) Profile(ctx context.Context, ownerID string) (domain.Institution, error) {
	if strings.TrimSpace(ownerID) == "" {
		return domain.Institution{}, domain.ErrUnauthorized
	}
	id, err := s.identities.GetIdentity(ctx, ownerID)
	if err != nil {
		return domain.Institution{}, err
	}
	out := domain.Institution{Identity: id}
	addr, err := s.store.GetAddress(ctx, ownerID)
	switch {
	case err == nil:
		out.Address = &addr
	case !errors.Is(err, domain.ErrNotFound):
		return domain.Institution{}, fmt.Errorf("institution: address: %w: %w", domain.ErrInternal, err)
	}
	phones, err := s.store.ListPhones(ctx, ownerID)
	if err != nil {
		return domain.Institution{}, fmt.Errorf("institution: phones: %w: %w", domain.ErrInternal, err)
	}
	out.Phones = phones
	return out, nil
}
