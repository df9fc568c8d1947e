package wcdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ColumnMeta is one row of the engine's table_info pragma for a column.
type ColumnMeta struct {
	Name          string
	Type          string
	NotNull       bool
	Default       *string
	PrimaryKeyPos int // 0 when the column is not part of the primary key
}

// IndexOfIntegerPrimary returns the index of the column that aliases rowid
// (a single-column INTEGER primary key), or -1 when the table has none.
func IndexOfIntegerPrimary(metas []ColumnMeta) int {
	primaryCount := 0
	candidate := -1
	for i, meta := range metas {
		if meta.PrimaryKeyPos > 0 {
			primaryCount++
			if strings.EqualFold(meta.Type, "integer") {
				candidate = i
			}
		}
	}
	if primaryCount == 1 {
		return candidate
	}
	return -1
}

// TableExists reports whether table exists in schema by querying that
// schema's master table.
func (h *Handle) TableExists(ctx context.Context, schema Schema, table string) (bool, error) {
	query := fmt.Sprintf(
		"SELECT 1 FROM %s.sqlite_master WHERE type = 'table' AND name = ?",
		quoteIdent(schema.Name()),
	)
	var one int
	err := h.conn.QueryRowContext(ctx, query, table).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, translateError(err, h.action, h.path)
	}
	return true, nil
}

// TableMeta returns the column metadata of schema.table. A missing table
// yields an empty result, matching the pragma's behavior.
func (h *Handle) TableMeta(ctx context.Context, schema Schema, table string) ([]ColumnMeta, error) {
	query := fmt.Sprintf(
		"PRAGMA %s.table_info(%s)",
		quoteIdent(schema.Name()), quoteIdent(table),
	)
	rows, err := h.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, translateError(err, h.action, h.path)
	}
	defer rows.Close()

	var metas []ColumnMeta
	for rows.Next() {
		var cid, notNull, pk int
		var name, colType string
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, translateError(err, h.action, h.path)
		}
		meta := ColumnMeta{
			Name:          name,
			Type:          colType,
			NotNull:       notNull != 0,
			PrimaryKeyPos: pk,
		}
		if dflt.Valid {
			meta.Default = &dflt.String
		}
		metas = append(metas, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, translateError(err, h.action, h.path)
	}
	return metas, nil
}

// Values collects the first column of every row of query into a set.
func (h *Handle) Values(ctx context.Context, query string) (map[string]struct{}, error) {
	rows, err := h.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, translateError(err, h.action, h.path)
	}
	defer rows.Close()

	values := make(map[string]struct{})
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, translateError(err, h.action, h.path)
		}
		values[v] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, translateError(err, h.action, h.path)
	}
	return values, nil
}

// RowCount returns the number of rows in schema.table.
func (h *Handle) RowCount(ctx context.Context, schema Schema, table string) (int, error) {
	var n int
	query := "SELECT count(*) FROM " + qualifiedTable(schema, table)
	if err := h.conn.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, translateError(err, h.action, h.path)
	}
	return n, nil
}
