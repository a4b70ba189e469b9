package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupRouteMatchesKind(t *testing.T) {
	for _, spec := range KindSpecs() {
		byRoute, ok := LookupRoute(spec.Route)
		require.True(t, ok, spec.Route)
		assert.Equal(t, spec.Kind, byRoute.Kind)

		byKind, ok := LookupKind(spec.Kind)
		require.True(t, ok, string(spec.Kind))
		assert.Equal(t, spec.Route, byKind.Route)
	}
	_, ok := LookupRoute("donations")
	assert.False(t, ok)
	_, ok = LookupKind(ResourceKind("unknown"))
	assert.False(t, ok)
}

func TestKindSpecsSortedByRoute(t *testing.T) {
	specs := KindSpecs()
	require.Len(t, specs, 6)
	for i := 1; i < len(specs); i++ {
		assert.Less(t, specs[i-1].Route, specs[i].Route)
	}
}

func TestKindSpecValidate(t *testing.T) {
	amount := decimal.RequireFromString("120.50")
	tiny := decimal.RequireFromString("1e-30000000")
	financial, _ := LookupKind(KindFinancialEntry)
	partnership, _ := LookupKind(KindPartnership)
	audit, _ := LookupKind(KindAudit)

	cases := []struct {
		name    string
		spec    KindSpec
		res     Resource
		hasFile bool
		field   string
	}{
		{
			name: "financial entry without file",
			spec: financial,
			res:  Resource{Title: "Doação", Amount: &amount, Attributes: map[string]string{"entry_type": "income"}},
		},
		{
			name:  "blank title",
			spec:  financial,
			res:   Resource{Title: "   ", Amount: &amount, Attributes: map[string]string{"entry_type": "income"}},
			field: FieldTitle,
		},
		{
			name:  "missing amount",
			spec:  financial,
			res:   Resource{Title: "Doação", Attributes: map[string]string{"entry_type": "income"}},
			field: FieldAmount,
		},
		{
			name:  "entry type outside enum",
			spec:  financial,
			res:   Resource{Title: "Doação", Amount: &amount, Attributes: map[string]string{"entry_type": "transfer"}},
			field: "entry_type",
		},
		{
			name:  "amount with too many decimal places",
			spec:  financial,
			res:   Resource{Title: "Doação", Amount: &tiny, Attributes: map[string]string{"entry_type": "income"}},
			field: FieldAmount,
		},
		{
			name:    "partnership rejects file",
			spec:    partnership,
			res:     Resource{Title: "Parceria", Attributes: map[string]string{"partner_name": "Mercado"}},
			hasFile: true,
			field:   "file",
		},
		{
			name:  "audit requires file",
			spec:  audit,
			res:   Resource{Title: "Auditoria 2024"},
			field: "file",
		},
		{
			name:    "audit with file",
			spec:    audit,
			res:     Resource{Title: "Auditoria 2024"},
			hasFile: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.spec.Validate(tc.res, tc.hasFile)
			if tc.field == "" {
				require.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tc.field, verr.Field)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestResourcePatchApply(t *testing.T) {
	title := "Relatório anual"
	amount := decimal.RequireFromString("10")
	r := Resource{Title: "Rascunho", Description: "antiga", Attributes: map[string]string{"period": "2023", "extra": "x"}}

	ResourcePatch{
		Title:      &title,
		Amount:     &amount,
		Attributes: map[string]string{"period": "2024", "extra": ""},
	}.Apply(&r)

	assert.Equal(t, "Relatório anual", r.Title)
	assert.Equal(t, "antiga", r.Description)
	require.NotNil(t, r.Amount)
	assert.True(t, r.Amount.Equal(amount))
	assert.Equal(t, map[string]string{"period": "2024"}, r.Attributes)

	amount = decimal.RequireFromString("99")
	assert.Equal(t, "10", r.Amount.String(), "patch amount must be copied")
}
