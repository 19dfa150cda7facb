package directory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Knetic/govaluate"
	"github.com/ZanzyTHEbar/cyibot"
)

// MemoryStore is an in-process directory for tests and small deployments.
// It evaluates the structured constraints of a query and ignores its SQL,
// so it only accepts queries that carry constraints.
type MemoryStore struct {
	mu      sync.RWMutex
	records []cyibot.DirectoryRecord
}

// NewMemoryStore creates a store holding records.
func NewMemoryStore(records ...cyibot.DirectoryRecord) *MemoryStore {
	s := &MemoryStore{}
	s.Add(records...)
	return s
}

// Add appends records.
func (s *MemoryStore) Add(records ...cyibot.DirectoryRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
}

// Replace swaps the whole directory for records.
func (s *MemoryStore) Replace(records ...cyibot.DirectoryRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append([]cyibot.DirectoryRecord(nil), records...)
}

// Len returns the number of records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// ExecuteRead returns the records satisfying every constraint, ordered by
// program, year and name.
func (s *MemoryStore) ExecuteRead(ctx context.Context, query *cyibot.DirectoryQuery) ([]cyibot.DirectoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if query == nil {
		return nil, cyibot.NewQueryError("no query to execute", nil)
	}
	if query.Constraints == nil && strings.TrimSpace(query.SQL) != "" {
		return nil, cyibot.NewQueryError("in-memory directory only runs structured queries", nil)
	}

	expr, params, err := compile(query.Constraints)
	if err != nil {
		return nil, cyibot.NewQueryError("invalid directory constraints", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []cyibot.DirectoryRecord
	for _, rec := range s.records {
		if expr != nil {
			for k, v := range recordParameters(rec) {
				params[k] = v
			}
			ok, err := expr.Evaluate(params)
			if err != nil {
				return nil, cyibot.NewQueryError("failed to evaluate directory constraints", err)
			}
			if matched, _ := ok.(bool); !matched {
				continue
			}
		}
		out = append(out, rec)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Program != b.Program {
			return a.Program < b.Program
		}
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		return a.Name < b.Name
	})
	return out, nil
}

// compile turns constraints into one boolean expression. Values are bound
// as parameters p0, p1, ... and never spliced into the expression text.
func compile(constraints []cyibot.Constraint) (*govaluate.EvaluableExpression, map[string]interface{}, error) {
	params := map[string]interface{}{}
	var clauses []string
	n := 0
	for _, c := range constraints {
		if !memoryColumns[c.Column] {
			return nil, nil, fmt.Errorf("unknown column %q", c.Column)
		}
		if len(c.Values) == 0 {
			continue
		}
		alts := make([]string, 0, len(c.Values))
		for _, v := range c.Values {
			name := fmt.Sprintf("p%d", n)
			n++
			params[name] = normalize(c.Column, v)
			alts = append(alts, fmt.Sprintf("%s == %s", c.Column, name))
		}
		clauses = append(clauses, "("+strings.Join(alts, " || ")+")")
	}
	if len(clauses) == 0 {
		return nil, params, nil
	}
	expr, err := govaluate.NewEvaluableExpression(strings.Join(clauses, " && "))
	if err != nil {
		return nil, nil, err
	}
	return expr, params, nil
}

var memoryColumns = map[string]bool{
	"program": true,
	"year":    true,
	"role":    true,
	"name":    true,
	"email":   true,
}

func recordParameters(rec cyibot.DirectoryRecord) map[string]interface{} {
	return map[string]interface{}{
		"program": normalize("program", rec.Program),
		"year":    normalize("year", rec.Year),
		"role":    normalize("role", rec.Role),
		"name":    normalize("name", rec.Name),
		"email":   normalize("email", rec.Email),
	}
}

// normalize makes values comparable: years become float64, strings are
// compared case-insensitively.
func normalize(column string, v any) interface{} {
	if column == "year" {
		switch n := v.(type) {
		case int:
			return float64(n)
		case int64:
			return float64(n)
		case float64:
			return n
		default:
			var f float64
			if _, err := fmt.Sscan(fmt.Sprint(v), &f); err == nil {
				return f
			}
			return -1.0
		}
	}
	return strings.ToLower(strings.TrimSpace(fmt.Sprint(v)))
}
