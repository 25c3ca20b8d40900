package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jjhenkel/sqltoolsservice/internal/metadata"
)

// ExclusionConfig controls which catalog objects are skipped during a build
// and whether empty containers are pruned afterwards. Configured exclusions
// are additive on top of the built-in defaults unless defaults are disabled.
type ExclusionConfig struct {
	PruneEmptyNodes          bool
	DisableDefaultExclusions bool
	ExcludeDatabases         []string
	ExcludeSchemas           []string
	ExcludeTables            []string
	ExcludeViews             []string
}

// Built-in deny sets: system databases and the fixed database-role schemas.
var (
	defaultDatabaseExclusions = []string{"master"}

	defaultSchemaExclusions = []string{
		"sys",
		"guest",
		"INFORMATION_SCHEMA",
		"db_owner",
		"db_accessadmin",
		"db_securityadmin",
		"db_ddladmin",
		"db_backupoperator",
		"db_datareader",
		"db_datawriter",
		"db_denydatareader",
		"db_denydatawriter",
	}
)

// TreeBuilder walks the catalog hierarchy database by database, issuing one
// query per container node. Reads are depth-first and sequential: each
// level's query needs the parent row's identity.
type TreeBuilder struct {
	reader *CatalogReader
	cfg    ExclusionConfig
}

// NewTreeBuilder creates a builder over a live catalog connection.
func NewTreeBuilder(db *sql.DB, cfg ExclusionConfig) *TreeBuilder {
	return &TreeBuilder{reader: NewCatalogReader(db), cfg: cfg}
}

// BuildTree builds the full catalog snapshot for the connected server.
// Any query failure aborts the build; no partial tree is returned.
func (b *TreeBuilder) BuildTree(ctx context.Context) (*metadata.Node, error) {
	root := metadata.NewRoot()
	if err := b.buildDatabases(ctx, root); err != nil {
		return nil, err
	}
	return root, nil
}

func (b *TreeBuilder) buildDatabases(ctx context.Context, root *metadata.Node) error {
	deny := b.effectiveDeny(defaultDatabaseExclusions, b.cfg.ExcludeDatabases)

	query := "SELECT name FROM sys.databases"
	var args []interface{}
	if len(deny) > 0 {
		query += " WHERE name NOT IN (" + placeholders(1, len(deny)) + ")"
		args = toArgs(deny)
	}

	rows, err := b.reader.QueryRows(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to list databases: %w", err)
	}

	for _, row := range rows {
		node := root.NewChild(metadata.KindDatabase, row.Name)
		if err := b.buildSchemas(ctx, node, row.Name); err != nil {
			return err
		}
	}
	return nil
}

func (b *TreeBuilder) buildSchemas(ctx context.Context, parent *metadata.Node, database string) error {
	deny := b.effectiveDeny(defaultSchemaExclusions, b.cfg.ExcludeSchemas)

	// The database name is an identifier in the FROM clause; identifiers
	// cannot be bound as parameters, so it is bracket-escaped instead.
	query := fmt.Sprintf("SELECT name FROM %s.sys.schemas", metadata.QuoteName(database))
	var args []interface{}
	if len(deny) > 0 {
		query += " WHERE name NOT IN (" + placeholders(1, len(deny)) + ")"
		args = toArgs(deny)
	}

	rows, err := b.reader.QueryRows(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to list schemas in %s: %w", database, err)
	}

	for _, row := range rows {
		node := parent.NewChild(metadata.KindSchema, row.Name)
		if err := b.buildObjects(ctx, node, database, row.Name); err != nil {
			return err
		}
	}
	return nil
}

// buildObjects lists the schema's user tables and views in one query. The
// two type partitions carry their own disjoint NOT IN predicates, so an
// excluded table name never suppresses a view of the same name.
func (b *TreeBuilder) buildObjects(ctx context.Context, parent *metadata.Node, database, schema string) error {
	tableDeny := b.cfg.ExcludeTables
	viewDeny := b.cfg.ExcludeViews

	args := []interface{}{schema}

	tablePred := "o.type = 'U'"
	if len(tableDeny) > 0 {
		tablePred += " AND o.name NOT IN (" + placeholders(len(args)+1, len(tableDeny)) + ")"
		args = append(args, toArgs(tableDeny)...)
	}
	viewPred := "o.type = 'V'"
	if len(viewDeny) > 0 {
		viewPred += " AND o.name NOT IN (" + placeholders(len(args)+1, len(viewDeny)) + ")"
		args = append(args, toArgs(viewDeny)...)
	}

	quoted := metadata.QuoteName(database)
	query := fmt.Sprintf(
		"SELECT o.name, o.type FROM %s.sys.objects o JOIN %s.sys.schemas s ON o.schema_id = s.schema_id WHERE s.name = @p1 AND ((%s) OR (%s))",
		quoted, quoted, tablePred, viewPred,
	)

	rows, err := b.reader.QueryRows(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to list objects in %s.%s: %w", database, schema, err)
	}

	for _, row := range rows {
		kind := metadata.KindTable
		// sys.objects type codes are char(2) padded
		if strings.TrimSpace(row.Detail) == "V" {
			kind = metadata.KindView
		}
		node := parent.NewChild(kind, row.Name)
		if err := b.buildColumns(ctx, node, database, schema, row.Name); err != nil {
			return err
		}
		if err := b.buildForeignKeys(ctx, node, database, schema, row.Name); err != nil {
			return err
		}
	}
	return nil
}

func (b *TreeBuilder) buildColumns(ctx context.Context, parent *metadata.Node, database, schema, object string) error {
	quoted := metadata.QuoteName(database)
	query := fmt.Sprintf(
		"SELECT c.name, ty.name FROM %s.sys.columns c"+
			" JOIN %s.sys.types ty ON c.user_type_id = ty.user_type_id"+
			" JOIN %s.sys.objects o ON c.object_id = o.object_id"+
			" JOIN %s.sys.schemas s ON o.schema_id = s.schema_id"+
			" WHERE o.name = @p1 AND s.name = @p2",
		quoted, quoted, quoted, quoted,
	)

	rows, err := b.reader.QueryRows(ctx, query, object, schema)
	if err != nil {
		return fmt.Errorf("failed to list columns of %s.%s.%s: %w", database, schema, object, err)
	}

	for _, row := range rows {
		column := parent.NewChild(metadata.KindColumn, row.Name)
		column.Children = append(column.Children, metadata.NewColumnType(row.Detail))
	}
	return nil
}

func (b *TreeBuilder) buildForeignKeys(ctx context.Context, parent *metadata.Node, database, schema, object string) error {
	quoted := metadata.QuoteName(database)
	query := fmt.Sprintf(
		"SELECT fk.name, pt.name, pc.name, rt.name, rc.name FROM %s.sys.foreign_keys fk"+
			" JOIN %s.sys.foreign_key_columns fkc ON fk.object_id = fkc.constraint_object_id"+
			" JOIN %s.sys.objects pt ON fkc.parent_object_id = pt.object_id"+
			" JOIN %s.sys.columns pc ON fkc.parent_object_id = pc.object_id AND fkc.parent_column_id = pc.column_id"+
			" JOIN %s.sys.objects rt ON fkc.referenced_object_id = rt.object_id"+
			" JOIN %s.sys.columns rc ON fkc.referenced_object_id = rc.object_id AND fkc.referenced_column_id = rc.column_id"+
			" JOIN %s.sys.schemas s ON pt.schema_id = s.schema_id"+
			" WHERE pt.name = @p1 AND s.name = @p2",
		quoted, quoted, quoted, quoted, quoted, quoted, quoted,
	)

	fks, err := b.reader.QueryForeignKeys(ctx, query, object, schema)
	if err != nil {
		return fmt.Errorf("failed to list foreign keys of %s.%s.%s: %w", database, schema, object, err)
	}

	for _, fk := range fks {
		node := parent.NewChild(metadata.KindForeignKey, fk.Name)
		node.ExtraProperties = map[string]string{
			"TableName":            fk.TableName,
			"ColumnName":           fk.ColumnName,
			"ReferencedTableName":  fk.ReferencedTableName,
			"ReferencedColumnName": fk.ReferencedColumnName,
		}
	}
	return nil
}

// effectiveDeny combines the built-in defaults with configured exclusions.
// Disabling defaults leaves only the configured names.
func (b *TreeBuilder) effectiveDeny(defaults, configured []string) []string {
	if b.cfg.DisableDefaultExclusions {
		return configured
	}
	deny := make([]string, 0, len(defaults)+len(configured))
	deny = append(deny, defaults...)
	deny = append(deny, configured...)
	return deny
}

func toArgs(names []string) []interface{} {
	args := make([]interface{}, len(names))
	for i, name := range names {
		args[i] = name
	}
	return args
}
