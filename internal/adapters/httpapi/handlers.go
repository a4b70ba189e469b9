package httpapi

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"donationcore/internal/blob"
	"donationcore/internal/resource"
	"donationcore/pkg/domain"
)

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	inst, err := h.deps.Institutions.Register(r.Context(), req.input())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": inst.Identity.ID, "email": inst.Identity.Email})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	token, err := h.deps.Identities.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token, "token_type": "Bearer"})
}

func (h *Handler) profile(w http.ResponseWriter, r *http.Request) {
	inst, err := h.deps.Institutions.Profile(r.Context(), ownerFrom(r.Context()))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (h *Handler) createIntake(w http.ResponseWriter, r *http.Request) {
	var req intakeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	intake, err := h.deps.Ledger.RegisterIntake(r.Context(), ownerFrom(r.Context()), req.input())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, intake)
}

func (h *Handler) listLevels(w http.ResponseWriter, r *http.Request) {
	format := negotiateFormat(r)
	if format == "" {
		writeError(w, http.StatusNotAcceptable, "not_acceptable", "Formato não suportado.")
		return
	}
	levels, err := h.deps.Ledger.InventoryLevels(r.Context(), ownerFrom(r.Context()))
	if err != nil {
		fail(w, r, err)
		return
	}
	if format == FormatCSV {
		streamInventoryCSV(w, levels, time.Now())
		return
	}
	writeJSON(w, http.StatusOK, list(levels))
}

func (h *Handler) getLevel(w http.ResponseWriter, r *http.Request) {
	level, err := h.deps.Ledger.Level(r.Context(), ownerFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, level)
}

func (h *Handler) listWithdrawals(w http.ResponseWriter, r *http.Request) {
	out, err := h.deps.Ledger.ListWithdrawals(r.Context(), ownerFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(out))
}

func (h *Handler) createWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req withdrawalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	out, err := h.deps.Ledger.RegisterWithdrawal(r.Context(), ownerFrom(r.Context()), req.input())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

// kindOf resolves the {kind} route segment.
func kindOf(r *http.Request) (domain.ResourceKind, error) {
	route := mux.Vars(r)["kind"]
	spec, ok := domain.LookupRoute(route)
	if !ok {
		return "", domain.NotFoundError{Entity: "route", ID: route}
	}
	return spec.Kind, nil
}

func (h *Handler) createResource(w http.ResponseWriter, r *http.Request) {
	kind, err := kindOf(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	in, cleanup, err := h.readResource(w, r)
	if err != nil {
		fail(w, r, err)
		return
	}
	defer cleanup()
	created, err := h.deps.Resources.Create(r.Context(), ownerFrom(r.Context()), kind, in)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// Form fields with a fixed meaning; every other field becomes an attribute.
var resourceFormFields = map[string]bool{"title": true, "description": true, "amount": true}

// readResource accepts multipart/form-data (with an optional "file" part)
// or a JSON body.
func (h *Handler) readResource(w http.ResponseWriter, r *http.Request) (resource.CreateInput, func(), error) {
	noop := func() {}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var req resourceRequest
		if err := decodeJSON(w, r, &req); err != nil {
			return resource.CreateInput{}, noop, err
		}
		return resource.CreateInput{Title: req.Title, Description: req.Description, Amount: req.Amount, Attributes: req.Attributes}, noop, nil
	}

	// Headroom for the non-file parts.
	r.Body = http.MaxBytesReader(w, r.Body, h.deps.MaxUploadSize+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return resource.CreateInput{}, noop, domain.Invalid("file", fmt.Sprintf("arquivo excede o limite de %d bytes", h.deps.MaxUploadSize))
		}
		return resource.CreateInput{}, noop, domain.Invalid("", "formulário inválido")
	}
	cleanup := func() { _ = r.MultipartForm.RemoveAll() }

	in := resource.CreateInput{
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
	}
	if raw := strings.TrimSpace(r.FormValue("amount")); raw != "" {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			cleanup()
			return resource.CreateInput{}, noop, domain.Invalid("amount", "valor numérico inválido")
		}
		in.Amount = &amount
	}
	for key, values := range r.MultipartForm.Value {
		if resourceFormFields[key] || len(values) == 0 {
			continue
		}
		if in.Attributes == nil {
			in.Attributes = make(map[string]string)
		}
		in.Attributes[key] = values[0]
	}
	file, header, err := r.FormFile("file")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		cleanup()
		return resource.CreateInput{}, noop, domain.Invalid("file", "arquivo inválido")
	default:
		in.File = &resource.FileInput{Name: header.Filename, Reader: file}
		inner := cleanup
		cleanup = func() { _ = file.Close(); inner() }
	}
	return in, cleanup, nil
}

func (h *Handler) listResources(w http.ResponseWriter, r *http.Request) {
	kind, err := kindOf(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	out, err := h.deps.Resources.List(r.Context(), ownerFrom(r.Context()), kind)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(out))
}

func (h *Handler) getResource(w http.ResponseWriter, r *http.Request) {
	kind, err := kindOf(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	out, err := h.deps.Resources.Get(r.Context(), ownerFrom(r.Context()), kind, mux.Vars(r)["id"])
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) updateResource(w http.ResponseWriter, r *http.Request) {
	kind, err := kindOf(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var req resourcePatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	out, err := h.deps.Resources.Update(r.Context(), ownerFrom(r.Context()), kind, mux.Vars(r)["id"], req.patch())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) deleteResource(w http.ResponseWriter, r *http.Request) {
	kind, err := kindOf(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	id := mux.Vars(r)["id"]
	if err := h.deps.Resources.Delete(r.Context(), ownerFrom(r.Context()), kind, id); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}

// resourceFile redirects to a signed or public URL when the blob driver
// offers one and streams the content otherwise.
func (h *Handler) resourceFile(w http.ResponseWriter, r *http.Request) {
	kind, err := kindOf(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	owner, id := ownerFrom(r.Context()), mux.Vars(r)["id"]
	url, err := h.deps.Resources.FileURL(r.Context(), owner, kind, id)
	if err == nil {
		http.Redirect(w, r, url, http.StatusFound)
		return
	}
	if !errors.Is(err, blob.ErrUnsupported) {
		fail(w, r, err)
		return
	}
	res, rc, err := h.deps.Resources.OpenFile(r.Context(), owner, kind, id)
	if err != nil {
		fail(w, r, err)
		return
	}
	defer rc.Close()
	if res.ContentType != "" {
		w.Header().Set("Content-Type", res.ContentType)
	}
	if res.FileSize > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(res.FileSize, 10))
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": res.FileName}))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}
