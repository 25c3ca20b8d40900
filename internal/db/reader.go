package db

import (
	"context"
	"database/sql"
	"fmt"
)

// CatalogReader executes parameterized reads against the system catalog.
// It knows nothing about tree structure; the builder decides what each row
// means. Query failures are wrapped in *QueryError and never retried.
type CatalogReader struct {
	db *sql.DB
}

// NewCatalogReader creates a reader over a live catalog connection.
func NewCatalogReader(db *sql.DB) *CatalogReader {
	return &CatalogReader{db: db}
}

// Row is one catalog result row: an object name plus an optional detail
// column (object type descriptor or column type name, depending on the
// query). Detail is empty for single-column queries.
type Row struct {
	Name   string
	Detail string
}

// ForeignKeyRow is one foreign key constraint result. Foreign keys carry
// four properties and so do not fit the two-column Row shape.
type ForeignKeyRow struct {
	Name                 string
	TableName            string
	ColumnName           string
	ReferencedTableName  string
	ReferencedColumnName string
}

// QueryRows runs a catalog query returning one or two string columns.
// Identifier positions in the query text must already be bracket-quoted by
// the caller; args are bound positionally as @p1..@pN.
func (r *CatalogReader) QueryRows(ctx context.Context, query string, args ...interface{}) ([]Row, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &QueryError{Query: query, Err: err}
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, &QueryError{Query: query, Err: err}
	}

	var result []Row
	for rows.Next() {
		var row Row
		if len(cols) == 1 {
			err = rows.Scan(&row.Name)
		} else {
			var detail sql.NullString
			err = rows.Scan(&row.Name, &detail)
			row.Detail = detail.String
		}
		if err != nil {
			return nil, &QueryError{Query: query, Err: err}
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{Query: query, Err: err}
	}

	return result, nil
}

// QueryForeignKeys runs a five-column foreign key query with the same
// quoting and binding rules as QueryRows.
func (r *CatalogReader) QueryForeignKeys(ctx context.Context, query string, args ...interface{}) ([]ForeignKeyRow, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &QueryError{Query: query, Err: err}
	}
	defer rows.Close()

	var result []ForeignKeyRow
	for rows.Next() {
		var fk ForeignKeyRow
		if err := rows.Scan(&fk.Name, &fk.TableName, &fk.ColumnName, &fk.ReferencedTableName, &fk.ReferencedColumnName); err != nil {
			return nil, &QueryError{Query: query, Err: err}
		}
		result = append(result, fk)
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{Query: query, Err: err}
	}

	return result, nil
}

// placeholders renders positional parameter markers @p<start>..@p<start+n-1>
// for a variable-length IN list. SQL Server has no array binding, so the
// markers are generated while the values stay as true bound parameters.
func placeholders(start, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("@p%d", start+i)
	}
	return out
}
