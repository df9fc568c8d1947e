package wcdb

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// mainSchemaName is the always-present default schema of a connection.
const mainSchemaName = "main"

// builtinTablePrefix marks engine-internal tables that are never migrated.
const builtinTablePrefix = "sqlite_"

// migrationSchemaPrefix prefixes the derived name a source database is
// mounted under when attached for migration.
const migrationSchemaPrefix = "wcdb_migration_"

// Schema identifies a database mounted on a connection: either the main
// schema or a user-defined attach name.
type Schema struct {
	name string
}

// SchemaMain returns the identifier of the default schema.
func SchemaMain() Schema {
	return Schema{}
}

// SchemaNamed returns the identifier of a user-defined attach name.
func SchemaNamed(name string) Schema {
	if name == mainSchemaName {
		return Schema{}
	}
	return Schema{name: name}
}

func (s Schema) IsMain() bool {
	return s.name == ""
}

func (s Schema) Name() string {
	if s.name == "" {
		return mainSchemaName
	}
	return s.name
}

// Equal reports whether two identifiers target the same schema. Attach
// names are derived deterministically from the source database path, so
// equal names imply equal paths.
func (s Schema) Equal(o Schema) bool {
	return s.name == o.name
}

// schemaForDatabase derives the attach name for a source database path.
// An empty path means the source lives in the connection's own file.
func schemaForDatabase(path string) Schema {
	if path == "" {
		return SchemaMain()
	}
	h := fnv.New64a()
	h.Write([]byte(path))
	return Schema{name: fmt.Sprintf("%s%x", migrationSchemaPrefix, h.Sum64())}
}

// quoteIdent quotes an identifier for use in SQL, doubling embedded quotes.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// quoteString quotes a string literal for use in SQL.
func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// qualifiedTable renders schema.table with both parts quoted.
func qualifiedTable(schema Schema, table string) string {
	return quoteIdent(schema.Name()) + "." + quoteIdent(table)
}
