// Package translator answers contact directory questions by turning them
// into read-only queries over the directory table.
package translator

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/cyibot"
	"github.com/ZanzyTHEbar/cyibot/internal/sqlguard"
	"go.uber.org/zap"
)

// Mode selects how questions become queries.
type Mode string

const (
	// ModeGlossary builds queries deterministically from the glossary and
	// the resolved filter.
	ModeGlossary Mode = "glossary"
	// ModeModel asks the language model to write the query and accepts it
	// only if it passes the read-only guard.
	ModeModel Mode = "model"
)

// Dialect selects the placeholder style of generated queries.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

// DefaultTable is the directory table name.
const DefaultTable = "Alumni"

// selectColumns are the directory columns every query returns.
var selectColumns = []string{"program", "year", "role", "name", "email"}

var (
	identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	fence      = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
)

// Translator implements cyibot.QueryTranslator.
type Translator struct {
	store    cyibot.DirectoryStore
	schema   *cyibot.MetadataSchema
	glossary *Glossary
	model    cyibot.LanguageModel
	table    string
	mode     Mode
	dialect  Dialect
	logger   *zap.Logger
}

// Option configures a Translator.
type Option func(*Translator)

// WithGlossary replaces the default glossary.
func WithGlossary(g *Glossary) Option {
	return func(t *Translator) {
		if g != nil {
			t.glossary = g
		}
	}
}

// WithTable sets the directory table name.
func WithTable(table string) Option {
	return func(t *Translator) {
		t.table = table
	}
}

// WithMode selects the translation mode.
func WithMode(mode Mode) Option {
	return func(t *Translator) {
		t.mode = mode
	}
}

// WithModel sets the language model used in ModeModel.
func WithModel(model cyibot.LanguageModel) Option {
	return func(t *Translator) {
		t.model = model
	}
}

// WithDialect sets the placeholder style.
func WithDialect(d Dialect) Option {
	return func(t *Translator) {
		t.dialect = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Translator) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// New creates a translator over store.
func New(store cyibot.DirectoryStore, schema *cyibot.MetadataSchema, options ...Option) (*Translator, error) {
	if store == nil {
		return nil, cyibot.NewConfigurationError("translator requires a directory store", nil)
	}
	if schema == nil {
		return nil, cyibot.NewConfigurationError("translator requires a metadata schema", nil)
	}
	t := &Translator{
		store:    store,
		schema:   schema,
		glossary: DefaultGlossary(),
		table:    DefaultTable,
		mode:     ModeGlossary,
		dialect:  DialectSQLite,
		logger:   zap.NewNop(),
	}
	for _, option := range options {
		option(t)
	}

	if !identifier.MatchString(t.table) {
		return nil, cyibot.NewConfigurationError(fmt.Sprintf("invalid directory table name '%s'", t.table), nil)
	}
	switch t.mode {
	case ModeGlossary:
	case ModeModel:
		if t.model == nil {
			return nil, cyibot.NewConfigurationError("model translation mode requires a language model", nil)
		}
	default:
		return nil, cyibot.NewConfigurationError(fmt.Sprintf("unknown translation mode '%s'", t.mode), nil)
	}
	if t.dialect != DialectSQLite && t.dialect != DialectPostgres {
		return nil, cyibot.NewConfigurationError(fmt.Sprintf("unsupported SQL dialect '%s'", t.dialect), nil)
	}
	return t, nil
}

// Table returns the directory table name.
func (t *Translator) Table() string {
	return t.table
}

// Translate builds a read-only query for question and runs it. hints is
// the caller's resolved filter; nil makes the translator infer one from
// the question alone. When no safe query can be built the result has
// Generated false and the store is not called.
func (t *Translator) Translate(ctx context.Context, question string, hints cyibot.MetadataFilter) (*cyibot.TranslationResult, error) {
	var (
		query *cyibot.DirectoryQuery
		err   error
	)
	switch t.mode {
	case ModeModel:
		query, err = t.translateWithModel(ctx, question, hints)
	default:
		query = t.translateWithGlossary(question, hints)
	}
	if err != nil {
		return nil, err
	}
	if query == nil {
		t.logger.Info("no directory query generated", zap.String("question", question))
		return &cyibot.TranslationResult{Generated: false}, nil
	}

	records, err := t.store.ExecuteRead(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, cyibot.NewQueryError("directory query failed", err)
	}

	t.logger.Debug("directory query executed",
		zap.String("sql", query.SQL),
		zap.Int("records", len(records)))
	return &cyibot.TranslationResult{Query: query, Generated: true, Records: records}, nil
}

// Constraints returns the column constraints the glossary mode derives
// from question and hints, in column order.
func (t *Translator) Constraints(question string, hints cyibot.MetadataFilter) ([]cyibot.Constraint, bool) {
	base := hints
	if base == nil {
		base = cyibot.ResolveFilter(t.schema, question, nil).Filter
	}

	byColumn := map[string][]any{}
	for _, k := range base.Keys() {
		if directoryColumns[k] {
			byColumn[k] = []any{base[k]}
		}
	}

	matches := t.glossary.Match(question)
	for _, e := range matches {
		if e.Column == "" {
			continue
		}
		values := make([]any, len(e.Values))
		for i, v := range e.Values {
			values[i] = v
		}
		byColumn[e.Column] = values
	}

	columns := make([]string, 0, len(byColumn))
	for c := range byColumn {
		columns = append(columns, c)
	}
	sort.Strings(columns)

	out := make([]cyibot.Constraint, 0, len(columns))
	for _, c := range columns {
		out = append(out, cyibot.Constraint{Column: c, Values: byColumn[c]})
	}
	recognized := len(matches) > 0 || len(out) > 0 || cyibot.MentionsDirectory(question)
	return out, recognized
}

func (t *Translator) translateWithGlossary(question string, hints cyibot.MetadataFilter) *cyibot.DirectoryQuery {
	constraints, recognized := t.Constraints(question, hints)
	if !recognized {
		return nil
	}
	query := t.Build(constraints)
	if err := sqlguard.ValidateReadOnly(query.SQL, []string{t.table}); err != nil {
		t.logger.Error("generated query rejected", zap.String("sql", query.SQL), zap.Error(err))
		return nil
	}
	return query
}

// Build renders constraints as a parameterized SELECT over the directory.
func (t *Translator) Build(constraints []cyibot.Constraint) *cyibot.DirectoryQuery {
	var (
		b     strings.Builder
		args  []any
		where []string
	)
	placeholder := func() string {
		if t.dialect == DialectPostgres {
			return fmt.Sprintf("$%d", len(args))
		}
		return "?"
	}

	for _, c := range constraints {
		if !directoryColumns[c.Column] || len(c.Values) == 0 {
			continue
		}
		marks := make([]string, 0, len(c.Values))
		for _, v := range c.Values {
			args = append(args, v)
			marks = append(marks, placeholder())
		}
		if len(marks) == 1 {
			where = append(where, fmt.Sprintf("%s = %s", c.Column, marks[0]))
		} else {
			where = append(where, fmt.Sprintf("%s IN (%s)", c.Column, strings.Join(marks, ", ")))
		}
	}

	fmt.Fprintf(&b, `SELECT %s FROM "%s"`, strings.Join(selectColumns, ", "), t.table)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY program, year, name")

	return &cyibot.DirectoryQuery{
		SQL:         b.String(),
		Args:        args,
		Constraints: constraints,
	}
}

func (t *Translator) translateWithModel(ctx context.Context, question string, hints cyibot.MetadataFilter) (*cyibot.DirectoryQuery, error) {
	reply, err := t.model.Complete(ctx, t.modelPrompt(question, hints))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, cyibot.NewQueryError("query translation failed", err)
	}

	sql := strings.TrimSpace(reply)
	if m := fence.FindStringSubmatch(sql); m != nil {
		sql = strings.TrimSpace(m[1])
	}
	if sql == "" || strings.EqualFold(sql, "NONE") {
		return nil, nil
	}
	if err := sqlguard.ValidateReadOnly(sql, []string{t.table}); err != nil {
		t.logger.Warn("model query rejected", zap.String("sql", sql), zap.Error(err))
		return nil, nil
	}
	return &cyibot.DirectoryQuery{SQL: sql}, nil
}

func (t *Translator) modelPrompt(question string, hints cyibot.MetadataFilter) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write one SQLite SELECT statement over the table \"%s\" with columns %s.\n",
		t.table, strings.Join(selectColumns, ", "))
	b.WriteString("Never modify data. Use only these phrase mappings to build conditions:\n")
	b.WriteString(t.glossary.Describe())
	b.WriteString("A question that names only CYI, and not a specific program, must not filter on program.\n")
	if len(hints) > 0 {
		fmt.Fprintf(&b, "The conversation applies these filters: %s\n", hints.String())
	}
	b.WriteString("Reply with the SQL only, or NONE if the question is not about the directory.\n\n")
	fmt.Fprintf(&b, "Question: %s\n", question)
	return b.String()
}
