package archive

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	_ "github.com/marcboeker/go-duckdb"
)

// SQL runs ad-hoc queries over exported Parquet archives using an in-memory
// DuckDB instance. Intended for operational tooling, not the live log.
type SQL struct {
	db *sql.DB
}

// OpenSQL opens an in-memory DuckDB session. memoryLimit may be empty.
func OpenSQL(memoryLimit string) (*SQL, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	if memoryLimit != "" {
		if _, err := db.Exec(fmt.Sprintf("SET memory_limit='%s'", memoryLimit)); err != nil {
			db.Close()
			return nil, fmt.Errorf("set memory limit: %w", err)
		}
	}

	return &SQL{db: db}, nil
}

// Close closes the DuckDB session.
func (s *SQL) Close() error {
	return s.db.Close()
}

// Glob returns the read_parquet pattern covering every archive in dir.
func Glob(dir string) string {
	return filepath.Join(dir, "*.parquet")
}

// Query executes a SQL statement and returns generic rows, column order
// preserved in each map's companion columns slice.
func (s *SQL) Query(ctx context.Context, query string, args ...any) ([]string, []map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var results []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}

	return columns, results, rows.Err()
}
