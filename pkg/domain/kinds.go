package domain

import (
	"sort"
	"strings"
)

// FilePolicy states whether a resource kind carries an attached file.
type FilePolicy int

// File policies.
const (
	FileNone FilePolicy = iota
	FileOptional
	FileRequired
)

// Field names accepted in KindSpec.Required besides attribute keys.
const (
	FieldTitle  = "title"
	FieldAmount = "amount"
)

// KindSpec describes validation rules for one ResourceKind.
type KindSpec struct {
	Kind ResourceKind
	// Route is the plural path segment used by the HTTP API.
	Route string
	// Required lists FieldTitle, FieldAmount or attribute keys.
	Required []string
	File     FilePolicy
	// Enums restricts attribute values, keyed by attribute name.
	Enums map[string][]string
}

var kindSpecs = map[ResourceKind]KindSpec{
	KindFinancialEntry: {
		Kind:     KindFinancialEntry,
		Route:    "financial-entries",
		Required: []string{FieldTitle, FieldAmount, "entry_type"},
		File:     FileOptional,
		Enums:    map[string][]string{"entry_type": {"income", "expense"}},
	},
	KindContract:    {Kind: KindContract, Route: "contracts", Required: []string{FieldTitle, "counterparty"}, File: FileRequired},
	KindAudit:       {Kind: KindAudit, Route: "audits", Required: []string{FieldTitle}, File: FileRequired},
	KindReport:      {Kind: KindReport, Route: "reports", Required: []string{FieldTitle, "period"}, File: FileRequired},
	KindPartnership: {Kind: KindPartnership, Route: "partnerships", Required: []string{FieldTitle, "partner_name"}, File: FileNone},
	KindDocument:    {Kind: KindDocument, Route: "documents", Required: []string{FieldTitle}, File: FileRequired},
}

// LookupKind returns the spec registered for kind.
func LookupKind(kind ResourceKind) (KindSpec, bool) {
	spec, ok := kindSpecs[kind]
	return spec, ok
}

// LookupRoute returns the spec whose Route is route.
func LookupRoute(route string) (KindSpec, bool) {
	for _, spec := range kindSpecs {
		if spec.Route == route {
			return spec, true
		}
	}
	return KindSpec{}, false
}

// KindSpecs returns every registered spec ordered by route.
func KindSpecs() []KindSpec {
	out := make([]KindSpec, 0, len(kindSpecs))
	for _, spec := range kindSpecs {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Route < out[j].Route })
	return out
}

// Validate checks the required fields of r, the amount bounds and the file policy.
func (s KindSpec) Validate(r Resource, hasFile bool) error {
	for _, field := range s.Required {
		switch field {
		case FieldTitle:
			if strings.TrimSpace(r.Title) == "" {
				return Invalid(field, "campo obrigatório")
			}
		case FieldAmount:
			if r.Amount == nil {
				return Invalid(field, "campo obrigatório")
			}
		default:
			if strings.TrimSpace(r.Attributes[field]) == "" {
				return Invalid(field, "campo obrigatório")
			}
		}
	}
	if r.Amount != nil {
		if err := CheckDecimal(FieldAmount, *r.Amount); err != nil {
			return err
		}
	}
	for attr, allowed := range s.Enums {
		v, ok := r.Attributes[attr]
		if !ok {
			continue
		}
		if !contains(allowed, v) {
			return Invalid(attr, "valor deve ser um de "+strings.Join(allowed, ", "))
		}
	}
	switch s.File {
	case FileRequired:
		if !hasFile {
			return Invalid("file", "nenhum arquivo enviado")
		}
	case FileNone:
		if hasFile {
			return Invalid("file", "este recurso não aceita arquivos")
		}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
