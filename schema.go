package cyibot

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// FieldType is the value type of a metadata field.
type FieldType string

const (
	// FieldTypeStringEnum restricts the field to a closed set of strings.
	FieldTypeStringEnum FieldType = "string-enum"
	// FieldTypeInteger restricts the field to integers, optionally bounded.
	FieldTypeInteger FieldType = "integer"
)

// FieldSpec declares one filterable metadata field.
type FieldSpec struct {
	Name          string            `yaml:"name"`
	Type          FieldType         `yaml:"type"`
	Description   string            `yaml:"description"`
	AllowedValues []string          `yaml:"values,omitempty"`
	// Aliases maps phrases that name a value (e.g. a program's full name) to that value.
	Aliases map[string]string `yaml:"aliases,omitempty"`
	// ClearedBy lists phrases that refer to every value at once, such as the
	// organization's own name. A question containing one of them and no
	// explicit value leaves the field unconstrained.
	ClearedBy []string `yaml:"cleared_by,omitempty"`
	Min       int      `yaml:"min,omitempty"`
	Max       int      `yaml:"max,omitempty"`
}

type phraseMatcher struct {
	re    *regexp.Regexp
	value string
}

// MetadataSchema is the authoritative set of filterable fields and their
// value domains. It is immutable after construction and safe for
// concurrent use.
type MetadataSchema struct {
	fields   []FieldSpec
	byName   map[string]int
	matchers map[string][]phraseMatcher
	clearers map[string][]*regexp.Regexp
	integer  *regexp.Regexp
}

// NewMetadataSchema validates the field declarations and builds a schema.
func NewMetadataSchema(fields []FieldSpec) (*MetadataSchema, error) {
	if len(fields) == 0 {
		return nil, NewConfigurationError("metadata schema declares no fields", nil)
	}

	s := &MetadataSchema{
		fields:   make([]FieldSpec, 0, len(fields)),
		byName:   make(map[string]int, len(fields)),
		matchers: make(map[string][]phraseMatcher),
		clearers: make(map[string][]*regexp.Regexp),
		integer:  regexp.MustCompile(`\b\d{1,9}\b`),
	}

	for _, f := range fields {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			return nil, NewConfigurationError("metadata field with empty name", nil)
		}
		if _, dup := s.byName[name]; dup {
			return nil, NewConfigurationError(fmt.Sprintf("duplicate metadata field '%s'", name), nil)
		}
		f.Name = name

		switch f.Type {
		case FieldTypeStringEnum:
			if len(f.AllowedValues) == 0 {
				return nil, NewConfigurationError(fmt.Sprintf("enum field '%s' declares no values", name), nil)
			}
			for _, v := range f.AllowedValues {
				s.matchers[name] = append(s.matchers[name], phraseMatcher{re: phrasePattern(v), value: v})
			}
			for phrase, target := range f.Aliases {
				canonical, ok := matchEnum(f.AllowedValues, target)
				if !ok {
					return nil, NewConfigurationError(
						fmt.Sprintf("alias '%s' of field '%s' points to undeclared value '%s'", phrase, name, target), nil)
				}
				s.matchers[name] = append(s.matchers[name], phraseMatcher{re: phrasePattern(phrase), value: canonical})
			}
		case FieldTypeInteger:
			if f.Min > f.Max {
				return nil, NewConfigurationError(fmt.Sprintf("integer field '%s' has min %d > max %d", name, f.Min, f.Max), nil)
			}
			if len(f.AllowedValues) > 0 || len(f.Aliases) > 0 {
				return nil, NewConfigurationError(fmt.Sprintf("integer field '%s' cannot declare values or aliases", name), nil)
			}
		default:
			return nil, NewConfigurationError(fmt.Sprintf("field '%s' has unsupported type '%s'", name, f.Type), nil)
		}

		for _, phrase := range f.ClearedBy {
			s.clearers[name] = append(s.clearers[name], phrasePattern(phrase))
		}

		s.byName[name] = len(s.fields)
		s.fields = append(s.fields, f)
	}
	return s, nil
}

// DefaultFields returns the field declarations for the organization's
// document archive: program, year and report type.
func DefaultFields() []FieldSpec {
	return []FieldSpec{
		{
			Name:          "program",
			Type:          FieldTypeStringEnum,
			Description:   "CYI program the document belongs to",
			AllowedValues: []string{"SLI", "CCB", "CBD", "CLP"},
			Aliases: map[string]string{
				"Chinatown Beautification Day": "CBD",
			},
			ClearedBy: []string{"CYI", "all programs", "every program"},
		},
		{
			Name:        "year",
			Type:        FieldTypeInteger,
			Description: "program year the document covers",
			Min:         2000,
			Max:         2099,
		},
		{
			Name:          "report_type",
			Type:          FieldTypeStringEnum,
			Description:   "kind of document",
			AllowedValues: []string{"final_report", "feedback_survey", "meeting_notes", "proposal", "budget"},
			Aliases: map[string]string{
				"final report":   "final_report",
				"feedback":       "feedback_survey",
				"survey":         "feedback_survey",
				"meeting notes":  "meeting_notes",
				"minutes":        "meeting_notes",
				"proposal":       "proposal",
				"grant proposal": "proposal",
				"budget":         "budget",
			},
		},
	}
}

// DefaultMetadataSchema returns the schema built from DefaultFields.
func DefaultMetadataSchema() *MetadataSchema {
	s, err := NewMetadataSchema(DefaultFields())
	if err != nil {
		panic(err)
	}
	return s
}

// Fields returns a copy of the declared fields in declaration order.
func (s *MetadataSchema) Fields() []FieldSpec {
	out := make([]FieldSpec, len(s.fields))
	copy(out, s.fields)
	return out
}

// Field returns the declaration of the named field.
func (s *MetadataSchema) Field(name string) (FieldSpec, bool) {
	i, ok := s.byName[name]
	if !ok {
		return FieldSpec{}, false
	}
	return s.fields[i], true
}

// NormalizeValue checks value against the field's domain and returns its
// canonical form: the declared spelling for enum values, an int for
// integer values.
func (s *MetadataSchema) NormalizeValue(field string, value any) (any, error) {
	spec, ok := s.Field(field)
	if !ok {
		return nil, NewFilterValidationError(fmt.Sprintf("field '%s' is not declared in the metadata schema", field))
	}

	switch spec.Type {
	case FieldTypeStringEnum:
		str, ok := value.(string)
		if !ok {
			return nil, NewFilterValidationError(fmt.Sprintf("field '%s' expects a string, got %T", field, value))
		}
		canonical, ok := matchEnum(spec.AllowedValues, str)
		if !ok {
			return nil, NewFilterValidationError(fmt.Sprintf("value '%s' is not allowed for field '%s'", str, field))
		}
		return canonical, nil
	case FieldTypeInteger:
		n, ok := toInt(value)
		if !ok {
			return nil, NewFilterValidationError(fmt.Sprintf("field '%s' expects an integer, got %v", field, value))
		}
		if spec.Min != 0 || spec.Max != 0 {
			if n < spec.Min || n > spec.Max {
				return nil, NewFilterValidationError(
					fmt.Sprintf("value %d for field '%s' is outside [%d, %d]", n, field, spec.Min, spec.Max))
			}
		}
		return n, nil
	default:
		return nil, NewFilterValidationError(fmt.Sprintf("field '%s' has unsupported type", field))
	}
}

// Normalize validates every field of the filter and returns a copy holding
// canonical values.
func (s *MetadataSchema) Normalize(filter MetadataFilter) (MetadataFilter, error) {
	out := make(MetadataFilter, len(filter))
	for _, k := range filter.Keys() {
		v, err := s.NormalizeValue(k, filter[k])
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// Validate rejects filters that reference undeclared fields or values
// outside a field's domain.
func (s *MetadataSchema) Validate(filter MetadataFilter) error {
	_, err := s.Normalize(filter)
	return err
}

// Infer extracts filter values named in free text. Enum values and their
// aliases match case-insensitively on word boundaries; integer fields
// match bare numbers inside their bounds. A field for which the text names
// more than one distinct value is left out.
func (s *MetadataSchema) Infer(text string) MetadataFilter {
	out, _ := s.Scan(text)
	return out
}

// Scan is Infer that also reports the fields the text names more than one
// value for, in schema order.
func (s *MetadataSchema) Scan(text string) (MetadataFilter, []string) {
	out := MetadataFilter{}
	var ambiguous []string
	for _, f := range s.fields {
		var found []string
		switch f.Type {
		case FieldTypeStringEnum:
			for _, m := range s.matchers[f.Name] {
				if m.re.MatchString(text) {
					found = appendUnique(found, m.value)
				}
			}
		case FieldTypeInteger:
			if f.Min == 0 && f.Max == 0 {
				continue
			}
			for _, tok := range s.integer.FindAllString(text, -1) {
				n, err := strconv.Atoi(tok)
				if err != nil || n < f.Min || n > f.Max {
					continue
				}
				found = appendUnique(found, tok)
			}
		}

		switch {
		case len(found) > 1:
			ambiguous = append(ambiguous, f.Name)
		case len(found) == 1 && f.Type == FieldTypeInteger:
			n, _ := strconv.Atoi(found[0])
			out[f.Name] = n
		case len(found) == 1:
			out[f.Name] = found[0]
		}
	}
	return out, ambiguous
}

// Cleared returns the fields whose ClearedBy phrases occur in text.
func (s *MetadataSchema) Cleared(text string) []string {
	var out []string
	for _, f := range s.fields {
		for _, re := range s.clearers[f.Name] {
			if re.MatchString(text) {
				out = append(out, f.Name)
				break
			}
		}
	}
	return out
}

// Describe renders the schema for inclusion in a language model prompt.
func (s *MetadataSchema) Describe() string {
	var b strings.Builder
	for _, f := range s.fields {
		fmt.Fprintf(&b, "- %s (%s)", f.Name, f.Type)
		if f.Description != "" {
			fmt.Fprintf(&b, ": %s", f.Description)
		}
		switch f.Type {
		case FieldTypeStringEnum:
			fmt.Fprintf(&b, ". Allowed values: %s", strings.Join(f.AllowedValues, ", "))
			if len(f.Aliases) > 0 {
				phrases := make([]string, 0, len(f.Aliases))
				for p := range f.Aliases {
					phrases = append(phrases, fmt.Sprintf("%q means %s", p, f.Aliases[p]))
				}
				sort.Strings(phrases)
				fmt.Fprintf(&b, " (%s)", strings.Join(phrases, "; "))
			}
		case FieldTypeInteger:
			if f.Min != 0 || f.Max != 0 {
				fmt.Fprintf(&b, ". Range: %d to %d", f.Min, f.Max)
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

func phrasePattern(phrase string) *regexp.Regexp {
	words := strings.Fields(phrase)
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`(?i)\b` + strings.Join(words, `\s+`) + `\b`)
}

func matchEnum(allowed []string, value string) (string, bool) {
	value = strings.TrimSpace(value)
	for _, a := range allowed {
		if strings.EqualFold(a, value) {
			return a, true
		}
	}
	return "", false
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float32:
		return toInt(float64(n))
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	default:
		return 0, false
	}
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
