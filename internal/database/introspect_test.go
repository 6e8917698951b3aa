package database

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestQuoteIdentifier(t *testing.T) {
	tests := map[string]string{
		"samples":    "`samples`",
		"odd`name":   "`odd``name`",
		"with space": "`with space`",
	}
	for in, want := range tests {
		if got := QuoteIdentifier(in); got != want {
			t.Errorf("QuoteIdentifier(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestListTables(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SHOW FULL TABLES WHERE Table_type = 'BASE TABLE'").
		WillReturnRows(sqlmock.NewRows([]string{"Tables_in_lims", "Table_type"}).
			AddRow("samples", "BASE TABLE").
			AddRow("instruments", "BASE TABLE"))

	tables, err := ListTables(context.Background(), db)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(tables) != 2 || tables[0] != "samples" || tables[1] != "instruments" {
		t.Errorf("Expected [samples instruments] in server order, got %v", tables)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

func TestListTables_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SHOW FULL TABLES").WillReturnError(errors.New("denied"))

	if _, err := ListTables(context.Background(), db); err == nil {
		t.Error("Expected error when SHOW FULL TABLES fails")
	}
}

func TestShowCreateTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	defer db.Close()

	ddl := "CREATE TABLE `samples` (\n  `id` int NOT NULL\n)"
	mock.ExpectQuery("SHOW CREATE TABLE `samples`").
		WillReturnRows(sqlmock.NewRows([]string{"Table", "Create Table"}).AddRow("samples", ddl))

	got, err := ShowCreateTable(context.Background(), db, "samples")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got != ddl {
		t.Errorf("Expected DDL %q, got %q", ddl, got)
	}
}

func TestFetchTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT \\* FROM `samples`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "code", "note"}).
			AddRow([]byte("1"), []byte("S-001"), nil).
			AddRow([]byte("2"), []byte("S-002"), []byte("hemolysed")))

	columns, rows, err := FetchTable(context.Background(), db, "samples")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(columns) != 3 || columns[1] != "code" {
		t.Errorf("Unexpected columns %v", columns)
	}
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}
	if b, ok := rows[0][1].([]byte); !ok || string(b) != "S-001" {
		t.Errorf("Expected raw bytes S-001, got %#v", rows[0][1])
	}
	if rows[0][2] != nil {
		t.Errorf("Expected NULL to stay nil, got %#v", rows[0][2])
	}
	if b, ok := rows[1][2].([]byte); !ok || string(b) != "hemolysed" {
		t.Errorf("Expected second row value to be kept separately, got %#v", rows[1][2])
	}
}

func TestFetchTable_BinaryUnchanged(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	defer db.Close()

	jpeg := []byte{0xff, 0xd8, 0xff, 0x00, 0x10}
	mock.ExpectQuery("SELECT \\* FROM `images`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "data"}).AddRow(1, jpeg))

	_, rows, err := FetchTable(context.Background(), db, "images")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got, ok := rows[0][1].([]byte); !ok || !bytes.Equal(got, jpeg) {
		t.Errorf("Expected binary value % x, got %#v", jpeg, rows[0][1])
	}
}

func TestFetchTable_RowError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT \\* FROM `samples`").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).
			AddRow(1).
			RowError(0, errors.New("lost connection")))

	if _, _, err := FetchTable(context.Background(), db, "samples"); err == nil {
		t.Error("Expected row error to be surfaced")
	}
}
