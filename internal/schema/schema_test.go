package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labsafe/labsync/internal/models"
)

func loadRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Load()
	require.NoError(t, err)
	return r
}

func TestTables_DeclarationOrder(t *testing.T) {
	r := loadRegistry(t)
	assert.Equal(t, []string{"pesticide", "oil", "leanMeat", "tableware", "pathogen"}, r.Tables())
	assert.True(t, r.Has("oil"))
	assert.False(t, r.Has("#Oil"))
}

func base() models.Fields {
	return models.Fields{"testDate": "2026-03-01", "canteen": "North", "inspector": "Li"}
}

func TestValidate_Valid(t *testing.T) {
	r := loadRegistry(t)

	tests := []struct {
		table  string
		fields models.Fields
	}{
		{"pesticide", base().Merge(models.Fields{"vegetableType": "spinach", "batchNo": "B1", "result": "pass", "remark": ""})},
		{"oil", base().Merge(models.Fields{"oilTemp": 180.5, "tpmValue": "12", "colorLevel": 3.0})},
		{"leanMeat", base().Merge(models.Fields{"meatType": "pork", "batchNo": "B2", "result": "pass"})},
		{"tableware", base().Merge(models.Fields{"atpPoints": []any{
			map[string]any{"loc": "bowl", "rlu": "25", "res": "pass"},
			map[string]any{"loc": "plate", "rlu": 40.0, "res": "fail"},
		}})},
		{"pathogen", base().Merge(models.Fields{"sampleId": "S-1", "riskLevel": "low", "positiveDetails": []any{}, "modificationLogs": []any{map[string]any{"by": "x"}}})},
	}
	for _, tt := range tests {
		t.Run(tt.table, func(t *testing.T) {
			assert.NoError(t, r.Validate(tt.table, tt.fields))
		})
	}
}

func TestValidate_MissingRequired(t *testing.T) {
	r := loadRegistry(t)
	fields := base()
	delete(fields, "canteen")
	fields = fields.Merge(models.Fields{"oilTemp": 1.0, "tpmValue": 1.0, "colorLevel": 1.0})

	err := r.Validate("oil", fields)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve), "got %v", err)
	assert.Equal(t, "oil", ve.Table)
	assert.NotEmpty(t, ve.Issues)
}

func TestValidate_UnknownField(t *testing.T) {
	r := loadRegistry(t)
	fields := base().Merge(models.Fields{"meatType": "beef", "batchNo": "1", "result": "ok", "colour": "red"})

	err := r.Validate("leanMeat", fields)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve), "got %v", err)
}

func TestValidate_WrongType(t *testing.T) {
	r := loadRegistry(t)
	fields := base().Merge(models.Fields{"oilTemp": true, "tpmValue": 1.0, "colorLevel": 1.0})
	assert.Error(t, r.Validate("oil", fields))
}

func TestValidate_UnknownTable(t *testing.T) {
	r := loadRegistry(t)
	err := r.Validate("vehicles", base())
	assert.ErrorIs(t, err, ErrUnknownTable)
}

func TestValidatePatch(t *testing.T) {
	r := loadRegistry(t)
	assert.NoError(t, r.ValidatePatch("pesticide", models.Fields{"result": "fail"}))
	assert.NoError(t, r.ValidatePatch("pesticide", nil))
	assert.Error(t, r.ValidatePatch("pesticide", models.Fields{"result": 3.0}))
	assert.Error(t, r.ValidatePatch("pesticide", models.Fields{"unknown": "x"}))
}

func TestNormalize(t *testing.T) {
	decomposed := "Cafe\u0301"
	composed := "Caf\u00e9"

	out := Normalize(models.Fields{
		"canteen":   decomposed,
		"atpPoints": []any{map[string]any{"loc": decomposed}},
		"n":         1.5,
	})
	assert.Equal(t, composed, out["canteen"])
	assert.Equal(t, composed, out["atpPoints"].([]any)[0].(map[string]any)["loc"])
	assert.Equal(t, 1.5, out["n"])
	assert.Nil(t, Normalize(nil))
}
