package directory

import (
	"context"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImportCSV(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	csvData := "Program,Year,Role,Name,Email Address\n" +
		"SLI,2023,Coordinator,Ada Lee,ada@example.org\n" +
		"CCB,,Director,Bo Chan,\n"

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DROP TABLE IF EXISTS "Alumni"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE "Alumni" (program TEXT, year INTEGER, role TEXT, name TEXT, email_address TEXT)`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	prep := mock.ExpectPrepare(regexp.QuoteMeta(`INSERT INTO "Alumni" (program, year, role, name, email_address) VALUES (?, ?, ?, ?, ?)`))
	prep.ExpectExec().WithArgs("SLI", 2023, "Coordinator", "Ada Lee", "ada@example.org").WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WithArgs("CCB", nil, "Director", "Bo Chan", nil).WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	n, err := ImportCSV(context.Background(), db, strings.NewReader(csvData), "Alumni", DriverSQLite, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImportCSV_PostgresPlaceholders(t *testing.T) {
	assert.Equal(t,
		`INSERT INTO "Alumni" (name, year) VALUES ($1, $2)`,
		insertStatement("Alumni", []string{"name", "year"}, DriverPostgres))
}

func TestImportCSV_RollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("DROP TABLE").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err = ImportCSV(context.Background(), db, strings.NewReader("name\nAda\n"), "Alumni", DriverSQLite, nil)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImportCSV_BadHeader(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = ImportCSV(context.Background(), db, strings.NewReader("name,Name\nx,y\n"), "Alumni", DriverSQLite, nil)
	assert.Error(t, err)

	_, err = ImportCSV(context.Background(), db, strings.NewReader("name\n"), "bad table", DriverSQLite, nil)
	assert.Error(t, err)
}

func TestReadCSV(t *testing.T) {
	csvData := "\ufeffProgram,Year,Role,Name,Email,Phone Number\n" +
		"SLI,2023,Coordinator,Ada Lee,ada@example.org,555-0100\n" +
		"CCB,,Director,Bo Chan,,\n"

	records, err := ReadCSV(strings.NewReader(csvData))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "SLI", records[0].Program)
	assert.Equal(t, 2023, records[0].Year)
	assert.Equal(t, "ada@example.org", records[0].Email)
	assert.Equal(t, map[string]string{"phone_number": "555-0100"}, records[0].Extra)
	assert.Zero(t, records[1].Year)
	assert.Nil(t, records[1].Extra)

	_, err = ReadCSV(strings.NewReader("Name,Name\nA,B\n"))
	assert.Error(t, err)
}
