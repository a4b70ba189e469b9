// Package ledger implements the donation stock ledger: intake registration,
// availability arithmetic and withdrawal gating.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"donationcore/internal/logging"
	"donationcore/internal/observability"
	"donationcore/pkg/domain"
)

// ComputeAvailable returns intake.Quantity minus every withdrawal that
// references the intake. Withdrawals for other intakes are ignored.
func ComputeAvailable(intake domain.StockIntake, withdrawals []domain.StockWithdrawal) decimal.Decimal {
	return intake.Quantity.Sub(totalWithdrawn(intake.ID, withdrawals))
}

func totalWithdrawn(intakeID string, withdrawals []domain.StockWithdrawal) decimal.Decimal {
	sum := decimal.Zero
	for _, w := range withdrawals {
		if w.IntakeID == intakeID {
			sum = sum.Add(w.QuantityWithdrawn)
		}
	}
	return sum
}

// IntakeInput carries the fields of a new intake.
type IntakeInput struct {
	CategoryID   string
	Quantity     *decimal.Decimal
	Origin       string
	QualityGrade string
	RecordedAt   time.Time
}

// WithdrawalInput carries the fields of a new withdrawal.
type WithdrawalInput struct {
	IntakeID   string
	Quantity   *decimal.Decimal
	Recipient  string
	Note       string
	RecordedAt time.Time
}

// Engine registers intakes and withdrawals against a LedgerStore.
type Engine struct {
	store   domain.LedgerStore
	metrics observability.Recorder
	now     func() time.Time
	newID   func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator overrides id generation.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// WithMetrics records intake and withdrawal outcomes on rec.
func WithMetrics(rec observability.Recorder) Option {
	return func(e *Engine) {
		if rec != nil {
			e.metrics = rec
		}
	}
}

// NewEngine constructs an Engine over store.
func NewEngine(store domain.LedgerStore, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		metrics: observability.NoopRecorder{},
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterIntake validates and stores a new intake.
func (e *Engine) RegisterIntake(ctx context.Context, ownerID string, in IntakeInput) (domain.StockIntake, error) {
	if strings.TrimSpace(ownerID) == "" {
		return domain.StockIntake{}, domain.ErrUnauthorized
	}
	if strings.TrimSpace(in.CategoryID) == "" {
		return domain.StockIntake{}, domain.Invalid("category_id", "campo obrigatório")
	}
	if in.Quantity == nil {
		return domain.StockIntake{}, domain.Invalid("quantity", "campo obrigatório")
	}
	if !in.Quantity.IsPositive() {
		return domain.StockIntake{}, domain.Invalid("quantity", "deve ser um número positivo")
	}
	if err := domain.CheckDecimal("quantity", *in.Quantity); err != nil {
		return domain.StockIntake{}, err
	}
	origin := strings.TrimSpace(in.Origin)
	if origin == "" {
		origin = domain.AnonymousOrigin
	}
	now := e.now()
	recorded := in.RecordedAt
	if recorded.IsZero() {
		recorded = now
	}
	intake := domain.StockIntake{
		Base:         domain.Base{ID: e.newID(), OwnerID: ownerID, CreatedAt: now},
		CategoryID:   strings.TrimSpace(in.CategoryID),
		Quantity:     *in.Quantity,
		Origin:       origin,
		QualityGrade: strings.TrimSpace(in.QualityGrade),
		RecordedAt:   recorded,
	}
	var created domain.StockIntake
	err := observability.Track(ctx, e.metrics, "intake.register", func() error {
		var err error
		created, err = e.store.InsertIntake(ctx, intake)
		return err
	})
	if err != nil {
		return domain.StockIntake{}, internal("insert intake", err)
	}
	logging.FromContext(ctx).WithFields(logrus.Fields{
		"intake_id": created.ID,
		"category":  created.CategoryID,
		"quantity":  created.Quantity.String(),
	}).Info("intake registered")
	return created, nil
}

// RegisterWithdrawal validates the request, then appends the withdrawal only
// if the intake still holds at least the requested quantity. The store runs
// the availability check and the insert atomically per intake.
func (e *Engine) RegisterWithdrawal(ctx context.Context, ownerID string, in WithdrawalInput) (domain.StockWithdrawal, error) {
	if strings.TrimSpace(ownerID) == "" {
		return domain.StockWithdrawal{}, domain.ErrUnauthorized
	}
	if strings.TrimSpace(in.IntakeID) == "" {
		return domain.StockWithdrawal{}, domain.Invalid("intake_id", "campo obrigatório")
	}
	if in.Quantity == nil {
		return domain.StockWithdrawal{}, domain.Invalid("quantity", "campo obrigatório")
	}
	if !in.Quantity.IsPositive() {
		return domain.StockWithdrawal{}, domain.Invalid("quantity", "deve ser maior que zero")
	}
	if err := domain.CheckDecimal("quantity", *in.Quantity); err != nil {
		return domain.StockWithdrawal{}, err
	}
	if strings.TrimSpace(in.Recipient) == "" {
		return domain.StockWithdrawal{}, domain.Invalid("recipient", "campo obrigatório")
	}
	requested := *in.Quantity
	now := e.now()
	recorded := in.RecordedAt
	if recorded.IsZero() {
		recorded = now
	}
	w := domain.StockWithdrawal{
		Base:              domain.Base{ID: e.newID(), OwnerID: ownerID, CreatedAt: now},
		IntakeID:          in.IntakeID,
		QuantityWithdrawn: requested,
		Recipient:         strings.TrimSpace(in.Recipient),
		Note:              strings.TrimSpace(in.Note),
		RecordedAt:        recorded,
	}
	guard := func(intake domain.StockIntake, prior []domain.StockWithdrawal) error {
		available := ComputeAvailable(intake, prior)
		if requested.GreaterThan(available) {
			return &domain.InsufficientStockError{IntakeID: intake.ID, Requested: requested, Available: available}
		}
		return nil
	}
	var created domain.StockWithdrawal
	err := observability.Track(ctx, e.metrics, "withdrawal.register", func() error {
		var err error
		created, err = e.store.AppendWithdrawal(ctx, ownerID, w, guard)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrInsufficientStock) {
			return domain.StockWithdrawal{}, err
		}
		return domain.StockWithdrawal{}, internal("append withdrawal", err)
	}
	logging.FromContext(ctx).WithFields(logrus.Fields{
		"intake_id":     created.IntakeID,
		"withdrawal_id": created.ID,
		"quantity":      created.QuantityWithdrawn.String(),
	}).Info("withdrawal registered")
	return created, nil
}

// Available returns the remaining quantity of an owned intake.
func (e *Engine) Available(ctx context.Context, ownerID, intakeID string) (decimal.Decimal, error) {
	level, err := e.Level(ctx, ownerID, intakeID)
	if err != nil {
		return decimal.Zero, err
	}
	return level.Available, nil
}

// Level returns the inventory level of one owned intake.
func (e *Engine) Level(ctx context.Context, ownerID, intakeID string) (domain.InventoryLevel, error) {
	intake, err := e.store.GetIntake(ctx, ownerID, intakeID)
	if err != nil {
		return domain.InventoryLevel{}, passNotFound("get intake", err)
	}
	withdrawals, err := e.store.ListWithdrawals(ctx, intake.ID)
	if err != nil {
		return domain.InventoryLevel{}, internal("list withdrawals", err)
	}
	return levelOf(intake, withdrawals), nil
}

// InventoryLevels lists every intake of ownerID with its availability.
func (e *Engine) InventoryLevels(ctx context.Context, ownerID string) ([]domain.InventoryLevel, error) {
	intakes, err := e.store.ListIntakes(ctx, ownerID)
	if err != nil {
		return nil, internal("list intakes", err)
	}
	levels := make([]domain.InventoryLevel, 0, len(intakes))
	for _, intake := range intakes {
		withdrawals, err := e.store.ListWithdrawals(ctx, intake.ID)
		if err != nil {
			return nil, internal("list withdrawals", err)
		}
		levels = append(levels, levelOf(intake, withdrawals))
	}
	return levels, nil
}

// ListWithdrawals returns the withdrawals of an owned intake.
func (e *Engine) ListWithdrawals(ctx context.Context, ownerID, intakeID string) ([]domain.StockWithdrawal, error) {
	intake, err := e.store.GetIntake(ctx, ownerID, intakeID)
	if err != nil {
		return nil, passNotFound("get intake", err)
	}
	withdrawals, err := e.store.ListWithdrawals(ctx, intake.ID)
	if err != nil {
		return nil, internal("list withdrawals", err)
	}
	return withdrawals, nil
}

func levelOf(intake domain.StockIntake, withdrawals []domain.StockWithdrawal) domain.InventoryLevel {
	withdrawn := totalWithdrawn(intake.ID, withdrawals)
	return domain.InventoryLevel{
		Intake:    intake,
		Withdrawn: withdrawn,
		Available: intake.Quantity.Sub(withdrawn),
	}
}

func passNotFound(op string, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return internal(op, err)
}

func internal(op string, err error) error {
	return fmt.Errorf("ledger: %s: %w: %w", op, domain.ErrInternal, err)
}
