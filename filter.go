package cyibot

import "sort"

// FilterResolution describes how the effective filter of a turn was built.
type FilterResolution struct {
	// Filter is the effective filter for the turn.
	Filter MetadataFilter
	// Explicit holds the values named in the question itself.
	Explicit MetadataFilter
	// Carried lists fields taken over from the previous turn.
	Carried []string
	// Cleared lists fields the question widened to every value.
	Cleared []string
	// Ambiguous lists fields the question names several values for. They
	// are neither filtered on nor carried forward.
	Ambiguous []string
}

// ResolveFilter combines the values named in question with the previous
// turn's effective filter. Explicit values win; fields the question does
// not mention are carried forward unless one of the field's ClearedBy
// phrases appears. A field named with several values ("SLI and CCB") is
// mentioned, so it drops out of the filter instead of being carried.
// previous must already be valid for schema.
func ResolveFilter(schema *MetadataSchema, question string, previous MetadataFilter) FilterResolution {
	explicit, ambiguous := schema.Scan(question)
	res := FilterResolution{
		Filter:    explicit.Clone(),
		Explicit:  explicit,
		Ambiguous: ambiguous,
	}

	cleared := map[string]bool{}
	for _, field := range ambiguous {
		cleared[field] = true
	}
	for _, field := range schema.Cleared(question) {
		if _, named := explicit[field]; named {
			continue
		}
		cleared[field] = true
		res.Cleared = append(res.Cleared, field)
	}

	for _, k := range previous.Keys() {
		if _, named := explicit[k]; named {
			continue
		}
		if cleared[k] {
			continue
		}
		res.Filter[k] = previous[k]
		res.Carried = append(res.Carried, k)
	}
	sort.Strings(res.Cleared)
	return res
}
