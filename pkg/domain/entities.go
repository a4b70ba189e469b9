// Package domain defines the persistent entities, error taxonomy and
// storage ports used by donationcore.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AnonymousOrigin is recorded when a donation arrives without a known donor.
const AnonymousOrigin = "anonymous"

// Base contains common fields for owned records.
type Base struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

// StockIntake is a donation entry adding quantity to an institution's stock.
// Intakes are never mutated after creation; withdrawals reference them.
type StockIntake struct {
	Base
	CategoryID   string          `json:"category_id"`
	Quantity     decimal.Decimal `json:"quantity"`
	Origin       string          `json:"origin"`
	QualityGrade string          `json:"quality_grade,omitempty"`
	RecordedAt   time.Time       `json:"recorded_at"`
}

// StockWithdrawal removes quantity from a single intake.
type StockWithdrawal struct {
	Base
	IntakeID          string          `json:"intake_id"`
	QuantityWithdrawn decimal.Decimal `json:"quantity_withdrawn"`
	Recipient         string          `json:"recipient"`
	Note              string          `json:"note,omitempty"`
	RecordedAt        time.Time       `json:"recorded_at"`
}

// InventoryLevel is the read model pairing an intake with its availability.
type InventoryLevel struct {
	Intake    StockIntake     `json:"intake"`
	Withdrawn decimal.Decimal `json:"withdrawn"`
	Available decimal.Decimal `json:"available"`
}

// Identity is an institution account held by the identity provider.
type Identity struct {
	ID         string            `json:"id"`
	Email      string            `json:"email"`
	Attributes map[string]string `json:"attributes,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Address is the postal address attached to a registered institution.
type Address struct {
	OwnerID    string `json:"owner_id"`
	Street     string `json:"street"`
	Number     string `json:"number"`
	Complement string `json:"complement,omitempty"`
	District   string `json:"district"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
}

// Phone is a contact number attached to a registered institution.
type Phone struct {
	OwnerID string `json:"owner_id"`
	Number  string `json:"number"`
	Label   string `json:"label,omitempty"`
}

// Institution aggregates an identity with its dependent contact rows.
type Institution struct {
	Identity Identity `json:"identity"`
	Address  *Address `json:"address,omitempty"`
	Phones   []Phone  `json:"phones,omitempty"`
}

// ResourceKind identifies the family of a managed resource.
type ResourceKind string

// Managed resource kinds.
const (
	KindFinancialEntry ResourceKind = "financial_entry"
	KindContract       ResourceKind = "contract"
	KindAudit          ResourceKind = "audit"
	KindReport         ResourceKind = "report"
	KindPartnership    ResourceKind = "partnership"
	KindDocument       ResourceKind = "document"
)

// Resource is an owned record of any ResourceKind, optionally backed by a
// stored file. FilePath is empty when no file is attached.
type Resource struct {
	Base
	Kind        ResourceKind      `json:"kind"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Amount      *decimal.Decimal  `json:"amount,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	FilePath    string            `json:"file_path,omitempty"`
	FileName    string            `json:"file_name,omitempty"`
	ContentType string            `json:"content_type,omitempty"`
	FileSize    int64             `json:"file_size,omitempty"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// HasFile reports whether the resource references a stored object.
func (r Resource) HasFile() bool { return r.FilePath != "" }

// ResourcePatch carries the mutable fields of a resource. Nil fields are left untouched.
type ResourcePatch struct {
	Title       *string
	Description *string
	Amount      *decimal.Decimal
	Attributes  map[string]string
}

// Apply copies the non-nil patch fields onto r.
func (p ResourcePatch) Apply(r *Resource) {
	if p.Title != nil {
		r.Title = *p.Title
	}
	if p.Description != nil {
		r.Description = *p.Description
	}
	if p.Amount != nil {
		amt := *p.Amount
		r.Amount = &amt
	}
	if len(p.Attributes) > 0 {
		if r.Attributes == nil {
			r.Attributes = make(map[string]string, len(p.Attributes))
		}
		for k, v := range p.Attributes {
			if v == "" {
				delete(r.Attributes, k)
				continue
			}
			r.Attributes[k] = v
		}
	}
}
