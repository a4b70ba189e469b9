package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"donationcore/internal/institution"
	"donationcore/internal/logging"
	"donationcore/internal/ledger"
	"donationcore/pkg/domain"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON names so field errors match the request body.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

var tagMessages = map[string]string{
	"required": "campo obrigatório",
	"email":    "e-mail inválido",
	"min":      "valor abaixo do mínimo permitido",
	"max":      "valor acima do máximo permitido",
}

// check validates dto and converts the first failure into a ValidationError.
func check(dto any) error {
	err := validate.Struct(dto)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return domain.Invalid("", err.Error())
	}
	fe := verrs[0]
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	msg, ok := tagMessages[fe.Tag()]
	if !ok {
		msg = fmt.Sprintf("valor inválido (%s)", fe.Tag())
	}
	return domain.Invalid(field, msg)
}

// decodeJSON reads a bounded JSON body into dst and validates it.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.Invalid("", "corpo da requisição vazio")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return domain.Invalid("", "Corpo da requisição muito grande.")
		}
		logging.FromContext(r.Context()).WithError(err).Debug("decode request body")
		return domain.Invalid("", "JSON inválido.")
	}
	return check(dst)
}

type addressDTO struct {
	Street     string `json:"street" validate:"required"`
	Number     string `json:"number" validate:"required"`
	Complement string `json:"complement"`
	District   string `json:"district" validate:"required"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state" validate:"required"`
	PostalCode string `json:"postal_code" validate:"required"`
}

type phoneDTO struct {
	Number string `json:"number" validate:"required"`
	Label  string `json:"label"`
}

type registerRequest struct {
	Email    string     `json:"email" validate:"required,email"`
	Password string     `json:"password" validate:"required,min=6,max=72"`
	Name     string     `json:"name" validate:"required"`
	Document string     `json:"document"`
	Address  addressDTO `json:"address" validate:"required"`
	Phones   []phoneDTO `json:"phones" validate:"required,min=1,dive"`
}

func (req registerRequest) input() institution.RegistrationInput {
	in := institution.RegistrationInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Document: req.Document,
		Address:  institution.AddressInput(req.Address),
	}
	for _, p := range req.Phones {
		in.Phones = append(in.Phones, institution.PhoneInput(p))
	}
	return in
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type intakeRequest struct {
	CategoryID   string           `json:"category_id" validate:"required"`
	Quantity     *decimal.Decimal `json:"quantity" validate:"required"`
	Origin       string           `json:"origin"`
	QualityGrade string           `json:"quality_grade"`
	RecordedAt   *time.Time       `json:"recorded_at"`
}

func (req intakeRequest) input() ledger.IntakeInput {
	in := ledger.IntakeInput{
		CategoryID:   req.CategoryID,
		Quantity:     req.Quantity,
		Origin:       req.Origin,
		QualityGrade: req.QualityGrade,
	}
	if req.RecordedAt != nil {
		in.RecordedAt = req.RecordedAt.UTC()
	}
	return in
}

type withdrawalRequest struct {
	IntakeID   string           `json:"intake_id" validate:"required"`
	Quantity   *decimal.Decimal `json:"quantity" validate:"required"`
	Recipient  string           `json:"recipient" validate:"required"`
	Note       string           `json:"note"`
	RecordedAt *time.Time       `json:"recorded_at"`
}

func (req withdrawalRequest) input() ledger.WithdrawalInput {
	in := ledger.WithdrawalInput{
		IntakeID:  req.IntakeID,
		Quantity:  req.Quantity,
		Recipient: req.Recipient,
		Note:      req.Note,
	}
	if req.RecordedAt != nil {
		in.RecordedAt = req.RecordedAt.UTC()
	}
	return in
}

// resourceRequest is the JSON form of a resource create. Multipart uploads
// carry the same fields as form values.
type resourceRequest struct {
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Amount      *decimal.Decimal  `json:"amount"`
	Attributes  map[string]string `json:"attributes"`
}

type resourcePatchRequest struct {
	Title       *string           `json:"title"`
	Description *string           `json:"description"`
	Amount      *decimal.Decimal  `json:"amount"`
	Attributes  map[string]string `json:"attributes"`
}

func (req resourcePatchRequest) patch() domain.ResourcePatch {
	return domain.ResourcePatch{
		Title:       req.Title,
		Description: req.Description,
		Amount:      req.Amount,
		Attributes:  req.Attributes,
	}
}
