package cyibot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetadataSchema_Invalid(t *testing.T) {
	tests := map[string][]FieldSpec{
		"no fields":       nil,
		"empty name":      {{Name: " ", Type: FieldTypeInteger}},
		"duplicate":       {{Name: "year", Type: FieldTypeInteger}, {Name: "year", Type: FieldTypeInteger}},
		"enum no values":  {{Name: "program", Type: FieldTypeStringEnum}},
		"bad alias":       {{Name: "program", Type: FieldTypeStringEnum, AllowedValues: []string{"SLI"}, Aliases: map[string]string{"x": "NASA"}}},
		"inverted bounds": {{Name: "year", Type: FieldTypeInteger, Min: 2030, Max: 2000}},
		"integer values":  {{Name: "year", Type: FieldTypeInteger, AllowedValues: []string{"1"}}},
		"unknown type":    {{Name: "year", Type: "float"}},
	}
	for name, fields := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewMetadataSchema(fields)
			assert.ErrorIs(t, err, ErrConfiguration)
		})
	}
}

func TestMetadataSchema_NormalizeValue(t *testing.T) {
	s := DefaultMetadataSchema()

	tests := []struct {
		field   string
		value   any
		want    any
		wantErr bool
	}{
		{"program", "sli", "SLI", false},
		{"program", " CCB ", "CCB", false},
		{"program", "NASA", nil, true},
		{"program", 7, nil, true},
		{"year", 2023, 2023, false},
		{"year", float64(2024), 2024, false},
		{"year", "2022", 2022, false},
		{"year", 2023.5, nil, true},
		{"year", 1999, nil, true},
		{"report_type", "Budget", "budget", false},
		{"salary", 1, nil, true},
	}
	for _, tt := range tests {
		got, err := s.NormalizeValue(tt.field, tt.value)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrFilterValidation, "%s=%v", tt.field, tt.value)
			continue
		}
		require.NoError(t, err, "%s=%v", tt.field, tt.value)
		assert.Equal(t, tt.want, got)
	}
}

func TestMetadataSchema_Validate(t *testing.T) {
	s := DefaultMetadataSchema()
	assert.NoError(t, s.Validate(MetadataFilter{"program": "SLI", "year": 2024}))
	assert.NoError(t, s.Validate(nil))
	assert.ErrorIs(t, s.Validate(MetadataFilter{"program": "SLI", "region": "east"}), ErrFilterValidation)
}

func TestMetadataSchema_Infer(t *testing.T) {
	s := DefaultMetadataSchema()

	tests := map[string]struct {
		text string
		want MetadataFilter
	}{
		"program and year":  {"What was the major feedback from SLI 2024?", MetadataFilter{"program": "SLI", "year": 2024, "report_type": "feedback_survey"}},
		"lowercase program": {"how did sli go", MetadataFilter{"program": "SLI"}},
		"alias":             {"Who helped at Chinatown Beautification Day?", MetadataFilter{"program": "CBD"}},
		"year only":         {"What about 2022?", MetadataFilter{"year": 2022}},
		"two programs":      {"Compare SLI and CCB", MetadataFilter{}},
		"two years":         {"SLI in 2022 or 2023", MetadataFilter{"program": "SLI"}},
		"out of range":      {"call 555 1234", MetadataFilter{}},
		"inside a word":     {"SLIDES for CCBX", MetadataFilter{}},
		"organization only": {"Alumni for CYI", MetadataFilter{}},
		"multiword alias":   {"the grant proposal for CLP", MetadataFilter{"program": "CLP", "report_type": "proposal"}},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Infer(tt.text))
		})
	}
}

func TestMetadataSchema_Scan(t *testing.T) {
	s := DefaultMetadataSchema()

	filter, ambiguous := s.Scan("Compare the SLI and CCB budget in 2022 and 2023")
	assert.Equal(t, MetadataFilter{"report_type": "budget"}, filter)
	assert.Equal(t, []string{"program", "year"}, ambiguous)

	filter, ambiguous = s.Scan("What was the major feedback from SLI 2024?")
	assert.Equal(t, MetadataFilter{"program": "SLI", "year": 2024, "report_type": "feedback_survey"}, filter)
	assert.Empty(t, ambiguous)
}

func TestMetadataSchema_Cleared(t *testing.T) {
	s := DefaultMetadataSchema()
	assert.Equal(t, []string{"program"}, s.Cleared("Who are the coordinators for CYI in 2023?"))
	assert.Equal(t, []string{"program"}, s.Cleared("across all programs"))
	assert.Empty(t, s.Cleared("What about SLI?"))
}

func TestMetadataSchema_Describe(t *testing.T) {
	d := DefaultMetadataSchema().Describe()
	assert.Contains(t, d, "- program (string-enum)")
	assert.Contains(t, d, "Allowed values: SLI, CCB, CBD, CLP")
	assert.Contains(t, d, `"Chinatown Beautification Day" means CBD`)
	assert.Contains(t, d, "Range: 2000 to 2099")
}

func TestMetadataSchema_FieldsIsCopy(t *testing.T) {
	s := DefaultMetadataSchema()
	fields := s.Fields()
	fields[0].Name = "changed"

	_, ok := s.Field("program")
	assert.True(t, ok)
	assert.Equal(t, "program", s.Fields()[0].Name)
}
