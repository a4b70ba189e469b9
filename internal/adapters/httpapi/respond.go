package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"donationcore/internal/logging"
	"donationcore/pkg/domain"
)

// Error codes carried in the error envelope.
const (
	CodeInvalidInput      = "invalid_input"
	CodeInsufficientStock = "insufficient_stock"
	CodeNotFound          = "not_found"
	CodeConflict          = "conflict"
	CodeUnauthorized      = "unauthorized"
	CodeInternal          = "internal"
)

const internalMessage = "Erro interno. Tente novamente mais tarde."

// ErrorBody is the JSON envelope of every error response.
type ErrorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
}

type listBody[T any] struct {
	Items []T `json:"items"`
}

func list[T any](items []T) listBody[T] {
	if items == nil {
		items = []T{}
	}
	return listBody[T]{Items: items}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorBody{Message: message, Code: code})
}

// statusFor maps an error kind to its status, code and client message.
// Internal failures never leak their detail.
func statusFor(err error) (int, ErrorBody) {
	var (
		stock      *domain.InsufficientStockError
		validation *domain.ValidationError
		conflict   *domain.ConflictError
	)
	switch {
	case errors.As(err, &stock):
		return http.StatusBadRequest, ErrorBody{Message: stock.Error(), Code: CodeInsufficientStock, Field: "quantity"}
	case errors.As(err, &validation):
		return http.StatusBadRequest, ErrorBody{Message: validation.Error(), Code: CodeInvalidInput, Field: validation.Field}
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, ErrorBody{Message: err.Error(), Code: CodeInvalidInput}
	case errors.Is(err, domain.ErrInternal):
		return http.StatusInternalServerError, ErrorBody{Message: internalMessage, Code: CodeInternal}
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, ErrorBody{Message: "Registro não encontrado.", Code: CodeNotFound}
	case errors.As(err, &conflict):
		return http.StatusConflict, ErrorBody{Message: conflict.Message, Code: CodeConflict, Field: conflict.Field}
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, ErrorBody{Message: "Registro já existente.", Code: CodeConflict}
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, ErrorBody{Message: "Não autorizado.", Code: CodeUnauthorized}
	default:
		return http.StatusInternalServerError, ErrorBody{Message: internalMessage, Code: CodeInternal}
	}
}

// fail writes the envelope for err and logs server-side failures.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status, body := statusFor(err)
	log := logging.FromContext(r.Context()).WithError(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed")
	} else {
		log.WithField("code", body.Code).Debug("request rejected")
	}
	writeJSON(w, status, body)
}
