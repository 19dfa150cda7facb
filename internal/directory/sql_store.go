package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/cyibot"
	"github.com/ZanzyTHEbar/cyibot/internal/sqlguard"
	"go.uber.org/zap"
)

// SQLStore implements cyibot.DirectoryStore over a database/sql handle.
// Every statement is checked by the read-only guard and then runs inside a
// read-only transaction that is always rolled back.
type SQLStore struct {
	db     *sql.DB
	tables []string
	logger *zap.Logger
}

// NewSQLStore creates a store reading only from tables.
func NewSQLStore(db *sql.DB, tables []string, logger *zap.Logger) *SQLStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLStore{db: db, tables: tables, logger: logger}
}

// ExecuteRead runs query and maps each row to a record by column name.
// Columns other than program, year, role, name and email land in Extra.
func (s *SQLStore) ExecuteRead(ctx context.Context, query *cyibot.DirectoryQuery) ([]cyibot.DirectoryRecord, error) {
	if query == nil {
		return nil, cyibot.NewQueryError("no query to execute", nil)
	}
	if err := sqlguard.ValidateReadOnly(query.SQL, s.tables); err != nil {
		return nil, cyibot.NewQueryError("refusing to run unsafe query", err)
	}

	start := time.Now()
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to begin directory read: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.logger.Debug("directory read rollback failed", zap.Error(err))
		}
	}()

	rows, err := tx.QueryContext(ctx, query.SQL, query.Args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query directory: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read directory columns: %w", err)
	}

	var records []cyibot.DirectoryRecord
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan directory row: %w", err)
		}
		records = append(records, recordFrom(columns, values))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate directory rows: %w", err)
	}

	s.logger.Debug("directory query",
		zap.Int("rows", len(records)),
		zap.Duration("duration", time.Since(start)))
	return records, nil
}

// Ping checks that the database is reachable.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func recordFrom(columns []string, values []any) cyibot.DirectoryRecord {
	var rec cyibot.DirectoryRecord
	for i, col := range columns {
		v := values[i]
		if v == nil {
			continue
		}
		text := stringValue(v)
		switch strings.ToLower(col) {
		case "program":
			rec.Program = text
		case "year":
			if n, err := strconv.Atoi(strings.TrimSpace(text)); err == nil {
				rec.Year = n
			} else if text != "" {
				setExtra(&rec, "year", text)
			}
		case "role":
			rec.Role = text
		case "name":
			rec.Name = text
		case "email":
			rec.Email = text
		default:
			if text != "" {
				setExtra(&rec, strings.ToLower(col), text)
			}
		}
	}
	return rec
}

func setExtra(rec *cyibot.DirectoryRecord, key, value string) {
	if rec.Extra == nil {
		rec.Extra = map[string]string{}
	}
	rec.Extra[key] = value
}

func stringValue(v any) string {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return fmt.Sprint(t)
	}
}
