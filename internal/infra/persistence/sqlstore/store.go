// Package sqlstore implements the donationcore row store on database/sql.
// The Postgres and SQLite adapters share it and differ only in Dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"donationcore/internal/infra/persistence/schema"
	"donationcore/pkg/domain"
)

// Compile-time contract assertion ensuring Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

// Dialect captures the SQL differences between backends.
type Dialect struct {
	Name string
	// Numbered placeholders ($1, $2, ...) instead of '?'.
	Numbered bool
	// LockClause is appended to the intake lookup inside AppendWithdrawal.
	LockClause string
	// IsUniqueViolation reports whether err is a unique-constraint failure.
	IsUniqueViolation func(error) bool
}

// Rebind rewrites '?' placeholders for numbered dialects.
func (d Dialect) Rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Store is a database/sql backed PersistentStore.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// New wraps db. The caller owns schema creation; see ApplyDDL.
func New(db *sql.DB, dialect Dialect) *Store {
	if dialect.IsUniqueViolation == nil {
		dialect.IsUniqueViolation = func(error) bool { return false }
	}
	return &Store{db: db, dialect: dialect}
}

// ApplyDDL executes every statement of ddl.
func ApplyDDL(ctx context.Context, db *sql.DB, ddl string) error {
	for _, stmt := range schema.SplitStatements(ddl) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) q(query string) string { return s.dialect.Rebind(query) }

type rowScanner interface {
	Scan(dest ...any) error
}

// --- ledger ---

const intakeColumns = `id, owner_id, category_id, quantity, origin, quality_grade, recorded_at, created_at`

func scanIntake(row rowScanner) (domain.StockIntake, error) {
	var in domain.StockIntake
	err := row.Scan(&in.ID, &in.OwnerID, &in.CategoryID, &in.Quantity, &in.Origin, &in.QualityGrade, &in.RecordedAt, &in.CreatedAt)
	return in, err
}

// InsertIntake stores intake.
func (s *Store) InsertIntake(ctx context.Context, in domain.StockIntake) (domain.StockIntake, error) {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO stock_intakes (`+intakeColumns+`) VALUES (?,?,?,?,?,?,?,?)`),
		in.ID, in.OwnerID, in.CategoryID, in.Quantity.String(), in.Origin, in.QualityGrade, in.RecordedAt, in.CreatedAt)
	if err != nil {
		return domain.StockIntake{}, s.wrapWrite("insert intake", err)
	}
	return in, nil
}

// GetIntake returns the intake matching id and owner.
func (s *Store) GetIntake(ctx context.Context, ownerID, id string) (domain.StockIntake, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+intakeColumns+` FROM stock_intakes WHERE id = ? AND owner_id = ?`), id, ownerID)
	in, err := scanIntake(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StockIntake{}, domain.NotFoundError{Entity: "intake", ID: id}
	}
	if err != nil {
		return domain.StockIntake{}, fmt.Errorf("select intake: %w", err)
	}
	return in, nil
}

// ListIntakes returns the owner's intakes ordered by recorded_at.
func (s *Store) ListIntakes(ctx context.Context, ownerID string) ([]domain.StockIntake, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+intakeColumns+` FROM stock_intakes WHERE owner_id = ? ORDER BY recorded_at, id`), ownerID)
	if err != nil {
		return nil, fmt.Errorf("select intakes: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := make([]domain.StockIntake, 0)
	for rows.Next() {
		in, err := scanIntake(rows)
		if err != nil {
			return nil, fmt.Errorf("scan intake: %w", err)
		}
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate intakes: %w", err)
	}
	return out, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const withdrawalColumns = `id, owner_id, intake_id, quantity_withdrawn, recipient, note, recorded_at, created_at`

func (s *Store) listWithdrawals(ctx context.Context, q queryer, intakeID string) ([]domain.StockWithdrawal, error) {
	rows, err := q.QueryContext(ctx, s.q(`SELECT `+withdrawalColumns+` FROM stock_withdrawals WHERE intake_id = ? ORDER BY recorded_at, created_at, id`), intakeID)
	if err != nil {
		return nil, fmt.Errorf("select withdrawals: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := make([]domain.StockWithdrawal, 0)
	for rows.Next() {
		var w domain.StockWithdrawal
		if err := rows.Scan(&w.ID, &w.OwnerID, &w.IntakeID, &w.QuantityWithdrawn, &w.Recipient, &w.Note, &w.RecordedAt, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan withdrawal: %w", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate withdrawals: %w", err)
	}
	return out, nil
}

// ListWithdrawals returns every withdrawal recorded against intakeID.
func (s *Store) ListWithdrawals(ctx context.Context, intakeID string) ([]domain.StockWithdrawal, error) {
	return s.listWithdrawals(ctx, s.db, intakeID)
}

// AppendWithdrawal locks the owned intake row, runs guard over its current
// withdrawals and inserts w in the same transaction.
func (s *Store) AppendWithdrawal(ctx context.Context, ownerID string, w domain.StockWithdrawal, guard domain.WithdrawalGuard) (_ domain.StockWithdrawal, retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StockWithdrawal{}, fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	row := tx.QueryRowContext(ctx, s.q(`SELECT `+intakeColumns+` FROM stock_intakes WHERE id = ? AND owner_id = ?`+s.dialect.LockClause), w.IntakeID, ownerID)
	intake, err := scanIntake(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StockWithdrawal{}, domain.NotFoundError{Entity: "intake", ID: w.IntakeID}
	}
	if err != nil {
		return domain.StockWithdrawal{}, fmt.Errorf("select intake: %w", err)
	}
	prior, err := s.listWithdrawals(ctx, tx, intake.ID)
	if err != nil {
		return domain.StockWithdrawal{}, err
	}
	if guard != nil {
		if err := guard(intake, prior); err != nil {
			return domain.StockWithdrawal{}, err
		}
	}
	if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO stock_withdrawals (`+withdrawalColumns+`) VALUES (?,?,?,?,?,?,?,?)`),
		w.ID, w.OwnerID, w.IntakeID, w.QuantityWithdrawn.String(), w.Recipient, w.Note, w.RecordedAt, w.CreatedAt); err != nil {
		return domain.StockWithdrawal{}, s.wrapWrite("insert withdrawal", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.StockWithdrawal{}, fmt.Errorf("commit: %w", err)
	}
	committed = true
	return w, nil
}

// --- institutions ---

// InsertAddress stores addr.
func (s *Store) InsertAddress(ctx context.Context, a domain.Address) (domain.Address, error) {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO addresses (owner_id, street, number, complement, district, city, state, postal_code) VALUES (?,?,?,?,?,?,?,?)`),
		a.OwnerID, a.Street, a.Number, a.Complement, a.District, a.City, a.State, a.PostalCode)
	if err != nil {
		return domain.Address{}, s.wrapWrite("insert address", err)
	}
	return a, nil
}

// InsertPhone stores phone.
func (s *Store) InsertPhone(ctx context.Context, p domain.Phone) (domain.Phone, error) {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO phones (owner_id, number, label) VALUES (?,?,?)`), p.OwnerID, p.Number, p.Label)
	if err != nil {
		return domain.Phone{}, s.wrapWrite("insert phone", err)
	}
	return p, nil
}

// GetAddress returns the owner's address.
func (s *Store) GetAddress(ctx context.Context, ownerID string) (domain.Address, error) {
	var a domain.Address
	err := s.db.QueryRowContext(ctx, s.q(`SELECT owner_id, street, number, complement, district, city, state, postal_code FROM addresses WHERE owner_id = ?`), ownerID).
		Scan(&a.OwnerID, &a.Street, &a.Number, &a.Complement, &a.District, &a.City, &a.State, &a.PostalCode)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Address{}, domain.NotFoundError{Entity: "address", ID: ownerID}
	}
	if err != nil {
		return domain.Address{}, fmt.Errorf("select address: %w", err)
	}
	return a, nil
}

// ListPhones returns the owner's phones in insertion order.
func (s *Store) ListPhones(ctx context.Context, ownerID string) ([]domain.Phone, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT owner_id, number, label FROM phones WHERE owner_id = ? ORDER BY id`), ownerID)
	if err != nil {
		return nil, fmt.Errorf("select phones: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := make([]domain.Phone, 0)
	for rows.Next() {
		var p domain.Phone
		if err := rows.Scan(&p.OwnerID, &p.Number, &p.Label); err != nil {
			return nil, fmt.Errorf("scan phone: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- resources ---

const resourceColumns = `id, owner_id, kind, title, description, amount, attributes, file_path, file_name, content_type, file_size, created_at, updated_at`

func scanResource(row rowScanner) (domain.Resource, error) {
	var (
		r      domain.Resource
		kind   string
		amount decimal.NullDecimal
		attrs  string
	)
	if err := row.Scan(&r.ID, &r.OwnerID, &kind, &r.Title, &r.Description, &amount, &attrs, &r.FilePath, &r.FileName, &r.ContentType, &r.FileSize, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return domain.Resource{}, err
	}
	r.Kind = domain.ResourceKind(kind)
	if amount.Valid {
		amt := amount.Decimal
		r.Amount = &amt
	}
	decoded, err := decodeAttrs(attrs)
	if err != nil {
		return domain.Resource{}, err
	}
	r.Attributes = decoded
	return r, nil
}

// InsertResource stores r.
func (s *Store) InsertResource(ctx context.Context, r domain.Resource) (domain.Resource, error) {
	attrs, err := encodeAttrs(r.Attributes)
	if err != nil {
		return domain.Resource{}, err
	}
	_, err = s.db.ExecContext(ctx, s.q(`INSERT INTO resources (`+resourceColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		r.ID, r.OwnerID, string(r.Kind), r.Title, r.Description, nullAmount(r.Amount), attrs, r.FilePath, r.FileName, r.ContentType, r.FileSize, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return domain.Resource{}, s.wrapWrite("insert resource", err)
	}
	return r, nil
}

// GetResource returns the resource matching owner, kind and id.
func (s *Store) GetResource(ctx context.Context, ownerID string, kind domain.ResourceKind, id string) (domain.Resource, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+resourceColumns+` FROM resources WHERE id = ? AND owner_id = ? AND kind = ?`), id, ownerID, string(kind))
	r, err := scanResource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Resource{}, domain.NotFoundError{Entity: string(kind), ID: id}
	}
	if err != nil {
		return domain.Resource{}, fmt.Errorf("select resource: %w", err)
	}
	return r, nil
}

// ListResources returns the owner's resources of kind, newest first.
func (s *Store) ListResources(ctx context.Context, ownerID string, kind domain.ResourceKind) ([]domain.Resource, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+resourceColumns+` FROM resources WHERE owner_id = ? AND kind = ? ORDER BY created_at DESC, id`), ownerID, string(kind))
	if err != nil {
		return nil, fmt.Errorf("select resources: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := make([]domain.Resource, 0)
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan resource: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resources: %w", err)
	}
	return out, nil
}

// UpdateResource writes the mutable fields of an owned resource.
func (s *Store) UpdateResource(ctx context.Context, r domain.Resource) (domain.Resource, error) {
	attrs, err := encodeAttrs(r.Attributes)
	if err != nil {
		return domain.Resource{}, err
	}
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE resources SET title = ?, description = ?, amount = ?, attributes = ?, updated_at = ? WHERE id = ? AND owner_id = ? AND kind = ?`),
		r.Title, r.Description, nullAmount(r.Amount), attrs, r.UpdatedAt, r.ID, r.OwnerID, string(r.Kind))
	if err != nil {
		return domain.Resource{}, s.wrapWrite("update resource", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.Resource{}, domain.NotFoundError{Entity: string(r.Kind), ID: r.ID}
	}
	return s.GetResource(ctx, r.OwnerID, r.Kind, r.ID)
}

// DeleteResource removes an owned resource and returns the affected row count.
func (s *Store) DeleteResource(ctx context.Context, ownerID string, kind domain.ResourceKind, id string) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM resources WHERE id = ? AND owner_id = ? AND kind = ?`), id, ownerID, string(kind))
	if err != nil {
		return 0, fmt.Errorf("delete resource: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// --- identities ---

const identityColumns = `id, email, password_hash, attributes, created_at`

func scanIdentity(row rowScanner) (domain.IdentityRecord, error) {
	var (
		rec   domain.IdentityRecord
		attrs string
	)
	if err := row.Scan(&rec.ID, &rec.Email, &rec.PasswordHash, &attrs, &rec.CreatedAt); err != nil {
		return domain.IdentityRecord{}, err
	}
	decoded, err := decodeAttrs(attrs)
	if err != nil {
		return domain.IdentityRecord{}, err
	}
	rec.Attributes = decoded
	return rec, nil
}

// InsertIdentity stores rec, mapping a duplicate email to ErrConflict.
func (s *Store) InsertIdentity(ctx context.Context, rec domain.IdentityRecord) (domain.IdentityRecord, error) {
	attrs, err := encodeAttrs(rec.Attributes)
	if err != nil {
		return domain.IdentityRecord{}, err
	}
	_, err = s.db.ExecContext(ctx, s.q(`INSERT INTO identities (id, email, email_key, password_hash, attributes, created_at) VALUES (?,?,?,?,?,?)`),
		rec.ID, rec.Email, strings.ToLower(rec.Email), rec.PasswordHash, attrs, rec.CreatedAt)
	if err != nil {
		return domain.IdentityRecord{}, s.wrapWrite("insert identity", err)
	}
	return rec, nil
}

// GetIdentity returns the identity with id.
func (s *Store) GetIdentity(ctx context.Context, id string) (domain.IdentityRecord, error) {
	rec, err := scanIdentity(s.db.QueryRowContext(ctx, s.q(`SELECT `+identityColumns+` FROM identities WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IdentityRecord{}, domain.NotFoundError{Entity: "identity", ID: id}
	}
	if err != nil {
		return domain.IdentityRecord{}, fmt.Errorf("select identity: %w", err)
	}
	return rec, nil
}

// GetIdentityByEmail returns the identity registered with email (case-insensitive).
func (s *Store) GetIdentityByEmail(ctx context.Context, email string) (domain.IdentityRecord, error) {
	rec, err := scanIdentity(s.db.QueryRowContext(ctx, s.q(`SELECT `+identityColumns+` FROM identities WHERE email_key = ?`), strings.ToLower(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IdentityRecord{}, domain.NotFoundError{Entity: "identity", ID: email}
	}
	if err != nil {
		return domain.IdentityRecord{}, fmt.Errorf("select identity: %w", err)
	}
	return rec, nil
}

// DeleteIdentity removes an identity together with its address and phones.
func (s *Store) DeleteIdentity(ctx context.Context, id string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for _, stmt := range []string{`DELETE FROM phones WHERE owner_id = ?`, `DELETE FROM addresses WHERE owner_id = ?`} {
		if _, err := tx.ExecContext(ctx, s.q(stmt), id); err != nil {
			return 0, fmt.Errorf("delete dependents: %w", err)
		}
	}
	res, err := tx.ExecContext(ctx, s.q(`DELETE FROM identities WHERE id = ?`), id)
	if err != nil {
		return 0, fmt.Errorf("delete identity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	committed = true
	return n, nil
}

// --- helpers ---

func (s *Store) wrapWrite(op string, err error) error {
	if s.dialect.IsUniqueViolation(err) {
		return fmt.Errorf("%s: %w", op, domain.ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nullAmount(amount *decimal.Decimal) any {
	if amount == nil {
		return nil
	}
	return amount.String()
}

func encodeAttrs(attrs map[string]string) (string, error) {
	if len(attrs) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("encode attributes: %w", err)
	}
	return string(b), nil
}

func decodeAttrs(raw string) (map[string]string, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}
	return out, nil
}
