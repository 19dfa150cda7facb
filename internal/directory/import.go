package directory

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/ZanzyTHEbar/cyibot"
	"go.uber.org/zap"
)

var (
	columnName   = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)
	nonWordChars = regexp.MustCompile(`[^a-z0-9_]+`)
)

// ImportCSV replaces table with the rows of a CSV export of the directory
// spreadsheet. Headers are lower-cased with spaces turned into
// underscores; a "year" column is stored as INTEGER and every other
// column as TEXT. It returns the number of rows written.
func ImportCSV(ctx context.Context, db *sql.DB, r io.Reader, table, driver string, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !columnName.MatchString(strings.ToLower(table)) {
		return 0, fmt.Errorf("invalid table name %q", table)
	}

	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("failed to read CSV header: %w", err)
	}
	columns, err := normalizeHeader(header)
	if err != nil {
		return 0, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin import transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logger.Error("failed to roll back import", zap.Error(rbErr))
			}
		}
	}()

	if _, err = tx.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS "%s"`, table)); err != nil {
		return 0, fmt.Errorf("failed to drop table: %w", err)
	}
	if _, err = tx.ExecContext(ctx, createStatement(table, columns)); err != nil {
		return 0, fmt.Errorf("failed to create table: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, insertStatement(table, columns, driver))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	count := 0
	for {
		var row []string
		row, err = reader.Read()
		if errors.Is(err, io.EOF) {
			err = nil
			break
		}
		if err != nil {
			return count, fmt.Errorf("failed to read CSV row %d: %w", count+2, err)
		}
		args := make([]any, len(columns))
		for i, col := range columns {
			var cell string
			if i < len(row) {
				cell = strings.TrimSpace(row[i])
			}
			args[i] = cellValue(col, cell)
		}
		if _, err = stmt.ExecContext(ctx, args...); err != nil {
			return count, fmt.Errorf("failed to insert CSV row %d: %w", count+2, err)
		}
		count++
	}

	if err = tx.Commit(); err != nil {
		return count, fmt.Errorf("failed to commit import: %w", err)
	}
	logger.Info("directory imported", zap.String("table", table), zap.Int("rows", count))
	return count, nil
}

// LoadCSVFile reads the CSV export at path.
func LoadCSVFile(path string) ([]cyibot.DirectoryRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f)
}

// ReadCSV parses a CSV export of the directory spreadsheet into records,
// for use with MemoryStore. Headers are normalized as in ImportCSV.
func ReadCSV(r io.Reader) ([]cyibot.DirectoryRecord, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	columns, err := normalizeHeader(header)
	if err != nil {
		return nil, err
	}

	var records []cyibot.DirectoryRecord
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row %d: %w", line, err)
		}
		values := make([]any, len(columns))
		for i, col := range columns {
			if i < len(row) {
				values[i] = cellValue(col, strings.TrimSpace(row[i]))
			}
		}
		records = append(records, recordFrom(columns, values))
	}
	return records, nil
}

func normalizeHeader(header []string) ([]string, error) {
	seen := map[string]bool{}
	out := make([]string, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		name = strings.Trim(nonWordChars.ReplaceAllString(name, "_"), "_")
		if !columnName.MatchString(name) {
			return nil, fmt.Errorf("CSV column %d has unusable header %q", i+1, h)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate CSV column %q", name)
		}
		seen[name] = true
		out[i] = name
	}
	return out, nil
}

func createStatement(table string, columns []string) string {
	defs := make([]string, len(columns))
	for i, c := range columns {
		typ := "TEXT"
		if c == "year" {
			typ = "INTEGER"
		}
		defs[i] = fmt.Sprintf("%s %s", c, typ)
	}
	return fmt.Sprintf(`CREATE TABLE "%s" (%s)`, table, strings.Join(defs, ", "))
}

func insertStatement(table string, columns []string, driver string) string {
	marks := make([]string, len(columns))
	for i := range columns {
		if driver == DriverPostgres {
			marks[i] = fmt.Sprintf("$%d", i+1)
		} else {
			marks[i] = "?"
		}
	}
	return fmt.Sprintf(`INSERT INTO "%s" (%s) VALUES (%s)`, table, strings.Join(columns, ", "), strings.Join(marks, ", "))
}

func cellValue(column, cell string) any {
	if cell == "" {
		return nil
	}
	if column == "year" {
		if n, err := strconv.Atoi(cell); err == nil {
			return n
		}
	}
	return cell
}
