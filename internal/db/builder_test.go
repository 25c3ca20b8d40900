package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jjhenkel/sqltoolsservice/internal/metadata"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func defaultSchemaDenyArgs() []driver.Value {
	out := make([]driver.Value, len(defaultSchemaExclusions))
	for i, name := range defaultSchemaExclusions {
		out[i] = name
	}
	return out
}

func expectDatabases(mock sqlmock.Sqlmock, names ...string) {
	rows := sqlmock.NewRows([]string{"name"})
	for _, name := range names {
		rows.AddRow(name)
	}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT name FROM sys.databases WHERE name NOT IN (@p1)")).
		WithArgs("master").
		WillReturnRows(rows)
}

func expectSchemas(mock sqlmock.Sqlmock, database string, names ...string) {
	rows := sqlmock.NewRows([]string{"name"})
	for _, name := range names {
		rows.AddRow(name)
	}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT name FROM ["+database+"].sys.schemas WHERE name NOT IN (")).
		WithArgs(defaultSchemaDenyArgs()...).
		WillReturnRows(rows)
}

func expectObjects(mock sqlmock.Sqlmock, database, schema string, rows *sqlmock.Rows) {
	mock.ExpectQuery(regexp.QuoteMeta("FROM ["+database+"].sys.objects o JOIN ["+database+"].sys.schemas s")).
		WithArgs(schema).
		WillReturnRows(rows)
}

func expectColumns(mock sqlmock.Sqlmock, database, schema, object string, rows *sqlmock.Rows) {
	mock.ExpectQuery(regexp.QuoteMeta("FROM ["+database+"].sys.columns c")).
		WithArgs(object, schema).
		WillReturnRows(rows)
}

func expectForeignKeys(mock sqlmock.Sqlmock, database, schema, object string, rows *sqlmock.Rows) {
	mock.ExpectQuery(regexp.QuoteMeta("FROM ["+database+"].sys.foreign_keys fk")).
		WithArgs(object, schema).
		WillReturnRows(rows)
}

func noColumns() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"name", "name"})
}

func noForeignKeys() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"name", "pt", "pc", "rt", "rc"})
}

func TestBuildTreeSingleTable(t *testing.T) {
	db, mock := setupMockDB(t)

	expectDatabases(mock, "Sales")
	expectSchemas(mock, "Sales", "dbo")
	expectObjects(mock, "Sales", "dbo",
		sqlmock.NewRows([]string{"name", "type"}).AddRow("Orders", "U "))
	expectColumns(mock, "Sales", "dbo", "Orders",
		sqlmock.NewRows([]string{"name", "name"}).
			AddRow("Id", "int").
			AddRow("Total", "decimal"))
	expectForeignKeys(mock, "Sales", "dbo", "Orders", noForeignKeys())

	builder := NewTreeBuilder(db, ExclusionConfig{})
	root, err := builder.BuildTree(context.Background())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, root.Children, 1)
	sales := root.Children[0]
	assert.Equal(t, metadata.KindDatabase, sales.Kind)
	assert.Equal(t, "[Sales]", sales.QualifiedName)

	require.Len(t, sales.Children, 1)
	dbo := sales.Children[0]
	assert.Equal(t, metadata.KindSchema, dbo.Kind)
	assert.Equal(t, "[Sales].[dbo]", dbo.QualifiedName)

	require.Len(t, dbo.Children, 1)
	orders := dbo.Children[0]
	assert.Equal(t, metadata.KindTable, orders.Kind)
	assert.Equal(t, "[Sales].[dbo].[Orders]", orders.QualifiedName)

	require.Len(t, orders.Children, 2)
	id, total := orders.Children[0], orders.Children[1]
	assert.Equal(t, metadata.KindColumn, id.Kind)
	assert.Equal(t, "Id", id.Name)
	require.Len(t, id.Children, 1)
	assert.Equal(t, metadata.KindColumnType, id.Children[0].Kind)
	assert.Equal(t, "int", id.Children[0].Name)
	assert.Equal(t, "int", id.Children[0].QualifiedName)
	assert.Equal(t, "Total", total.Name)
	assert.Equal(t, "decimal", total.Children[0].Name)
}

func TestBuildTreeExcludedDatabase(t *testing.T) {
	db, mock := setupMockDB(t)

	// Configured exclusions are additive: master stays denied too.
	mock.ExpectQuery(regexp.QuoteMeta("SELECT name FROM sys.databases WHERE name NOT IN (@p1, @p2)")).
		WithArgs("master", "Sales").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))

	builder := NewTreeBuilder(db, ExclusionConfig{ExcludeDatabases: []string{"Sales"}})
	root, err := builder.BuildTree(context.Background())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Empty(t, root.Children)
	assert.Equal(t, metadata.KindRoot, root.Kind)
	assert.Equal(t, metadata.RootName, root.Name)
}

func TestBuildTreeDisabledDefaults(t *testing.T) {
	db, mock := setupMockDB(t)

	// With defaults disabled and nothing configured, no deny predicate at all.
	mock.ExpectQuery(regexp.QuoteMeta("SELECT name FROM sys.databases")).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("master"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT name FROM [master].sys.schemas")).
		WillReturnRows(sqlmock.NewRows([]string{"name"}))

	builder := NewTreeBuilder(db, ExclusionConfig{DisableDefaultExclusions: true})
	root, err := builder.BuildTree(context.Background())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, root.Children, 1)
	assert.Equal(t, "master", root.Children[0].Name)
}

func TestBuildTreePartitionsTablesAndViews(t *testing.T) {
	db, mock := setupMockDB(t)

	expectDatabases(mock, "Sales")
	expectSchemas(mock, "Sales", "dbo")

	mock.ExpectQuery(regexp.QuoteMeta("(o.type = 'U' AND o.name NOT IN (@p2)) OR (o.type = 'V' AND o.name NOT IN (@p3))")).
		WithArgs("dbo", "Staging", "LegacyView").
		WillReturnRows(sqlmock.NewRows([]string{"name", "type"}).
			AddRow("Orders", "U ").
			AddRow("OrderSummary", "V "))
	expectColumns(mock, "Sales", "dbo", "Orders", noColumns())
	expectForeignKeys(mock, "Sales", "dbo", "Orders", noForeignKeys())
	expectColumns(mock, "Sales", "dbo", "OrderSummary", noColumns())
	expectForeignKeys(mock, "Sales", "dbo", "OrderSummary", noForeignKeys())

	builder := NewTreeBuilder(db, ExclusionConfig{
		ExcludeTables: []string{"Staging"},
		ExcludeViews:  []string{"LegacyView"},
	})
	root, err := builder.BuildTree(context.Background())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	dbo := root.Children[0].Children[0]
	require.Len(t, dbo.Children, 2)
	assert.Equal(t, metadata.KindTable, dbo.Children[0].Kind)
	assert.Equal(t, metadata.KindView, dbo.Children[1].Kind)
	assert.Equal(t, "[Sales].[dbo].[OrderSummary]", dbo.Children[1].QualifiedName)
}

func TestBuildTreeForeignKeyProperties(t *testing.T) {
	db, mock := setupMockDB(t)

	expectDatabases(mock, "Sales")
	expectSchemas(mock, "Sales", "dbo")
	expectObjects(mock, "Sales", "dbo",
		sqlmock.NewRows([]string{"name", "type"}).AddRow("Orders", "U "))
	expectColumns(mock, "Sales", "dbo", "Orders",
		sqlmock.NewRows([]string{"name", "name"}).AddRow("CustomerId", "int"))
	expectForeignKeys(mock, "Sales", "dbo", "Orders",
		sqlmock.NewRows([]string{"name", "pt", "pc", "rt", "rc"}).
			AddRow("FK_Orders_Customers", "Orders", "CustomerId", "Customers", "Id"))

	builder := NewTreeBuilder(db, ExclusionConfig{})
	root, err := builder.BuildTree(context.Background())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	orders := root.Children[0].Children[0].Children[0]
	require.Len(t, orders.Children, 2)
	fk := orders.Children[1]
	assert.Equal(t, metadata.KindForeignKey, fk.Kind)
	assert.Empty(t, fk.Children)
	assert.Equal(t, map[string]string{
		"TableName":            "Orders",
		"ColumnName":           "CustomerId",
		"ReferencedTableName":  "Customers",
		"ReferencedColumnName": "Id",
	}, fk.ExtraProperties)
}

func TestBuildTreeQuotesDatabaseIdentifiers(t *testing.T) {
	db, mock := setupMockDB(t)

	expectDatabases(mock, "odd]name")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT name FROM [odd]]name].sys.schemas")).
		WithArgs(defaultSchemaDenyArgs()...).
		WillReturnRows(sqlmock.NewRows([]string{"name"}))

	builder := NewTreeBuilder(db, ExclusionConfig{})
	_, err := builder.BuildTree(context.Background())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildTreeQueryFailureAbortsBuild(t *testing.T) {
	db, mock := setupMockDB(t)

	expectDatabases(mock, "Sales")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT name FROM [Sales].sys.schemas")).
		WithArgs(defaultSchemaDenyArgs()...).
		WillReturnError(errors.New("permission denied"))

	builder := NewTreeBuilder(db, ExclusionConfig{})
	root, err := builder.BuildTree(context.Background())
	require.Error(t, err)
	assert.Nil(t, root, "a failed build must not return a partial tree")

	var queryErr *QueryError
	assert.ErrorAs(t, err, &queryErr)
}
