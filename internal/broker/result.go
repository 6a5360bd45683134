package broker

import (
	"context"
	"strings"

	"gorm.io/gorm"
)

// QueryResult holds the outcome of one query execution. Row-returning
// statements fill Columns and Rows; everything else fills RowsAffected.
type QueryResult struct {
	Columns      []string         `json:"columns,omitempty"`
	Rows         []map[string]any `json:"rows,omitempty"`
	RowsAffected int64            `json:"rows_affected"`
}

// rowStatements are the leading keywords of statements expected to return a
// result set.
var rowStatements = map[string]bool{
	"SELECT":   true,
	"WITH":     true,
	"SHOW":     true,
	"EXPLAIN":  true,
	"DESCRIBE": true,
	"PRAGMA":   true,
}

func returnsRows(query string) bool {
	fields := strings.Fields(strings.TrimSpace(query))
	if len(fields) == 0 {
		return false
	}
	return rowStatements[strings.ToUpper(fields[0])]
}

// runQuery executes a raw statement with positional parameters and decodes
// the outcome into a QueryResult.
func runQuery(ctx context.Context, db *gorm.DB, query string, params []any) (*QueryResult, error) {
	if !returnsRows(query) {
		tx := db.WithContext(ctx).Exec(query, params...)
		if tx.Error != nil {
			return nil, tx.Error
		}
		return &QueryResult{RowsAffected: tx.RowsAffected}, nil
	}

	rows, err := db.WithContext(ctx).Raw(query, params...).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := &QueryResult{Columns: cols, Rows: []map[string]any{}}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(map[string]any, len(cols))
		for i, col := range cols {
			v := values[i]
			// Drivers hand back []byte for text-ish columns; strings are
			// what JSON consumers expect.
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[col] = v
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result.RowsAffected = int64(len(result.Rows))
	return result, nil
}
