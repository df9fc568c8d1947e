package wcdb

import (
	"sort"
	"strings"
)

// MigrationUserInfo is the user-facing descriptor of one table migration:
// rows of SourceTable move into Table in the main database. SourceDatabase
// names the file holding the source table; empty means the source lives in
// the same file as the destination.
type MigrationUserInfo struct {
	Table          string
	SourceTable    string
	SourceDatabase string
}

// SchemaForSourceDatabase returns the schema the source database is
// addressed under on the migrating connection.
func (u *MigrationUserInfo) SchemaForSourceDatabase() Schema {
	return schemaForDatabase(u.SourceDatabase)
}

// MigrationInfo is the interned, immutable descriptor consumed by the
// stepper. It carries the identifying fields of the user info plus the
// destination's column layout, from which the three migration statements
// are generated. Infos are interned elsewhere, so identity by pointer is
// acceptable; Equal compares the identifying fields.
type MigrationInfo struct {
	table          string
	sourceTable    string
	sourceDatabase string
	schema         Schema
	integerPrimary bool
	columns        []string
}

// NewMigrationInfo builds an info from a user descriptor and the
// destination table's layout, as returned by ColumnsOfUserInfo.
func NewMigrationInfo(u *MigrationUserInfo, integerPrimary bool, columns map[string]struct{}) *MigrationInfo {
	names := make([]string, 0, len(columns))
	for name := range columns {
		names = append(names, name)
	}
	sort.Strings(names)
	return &MigrationInfo{
		table:          u.Table,
		sourceTable:    u.SourceTable,
		sourceDatabase: u.SourceDatabase,
		schema:         u.SchemaForSourceDatabase(),
		integerPrimary: integerPrimary,
		columns:        names,
	}
}

func (i *MigrationInfo) Table() string          { return i.table }
func (i *MigrationInfo) SourceTable() string    { return i.sourceTable }
func (i *MigrationInfo) SourceDatabase() string { return i.sourceDatabase }

// SchemaForSourceDatabase returns the schema the source table is addressed
// under.
func (i *MigrationInfo) SchemaForSourceDatabase() Schema {
	return i.schema
}

// Equal reports whether two infos describe the same migration.
func (i *MigrationInfo) Equal(o *MigrationInfo) bool {
	if i == o {
		return true
	}
	if i == nil || o == nil {
		return false
	}
	return i.table == o.table &&
		i.sourceTable == o.sourceTable &&
		i.sourceDatabase == o.sourceDatabase &&
		i.schema.Equal(o.schema)
}

// columnList renders the destination columns, prepending rowid when the
// destination has no integer primary key so row identity survives the move.
func (i *MigrationInfo) columnList() string {
	var parts []string
	if !i.integerPrimary {
		parts = append(parts, "rowid")
	}
	for _, name := range i.columns {
		parts = append(parts, quoteIdent(name))
	}
	return strings.Join(parts, ", ")
}

// StatementForMigratingOneRow copies the newest not-yet-migrated source row
// into the destination. Conflicts with already-present rows are ignored, so
// a step that affects zero rows means the source is drained.
func (i *MigrationInfo) StatementForMigratingOneRow() string {
	cols := i.columnList()
	return "INSERT OR IGNORE INTO " + qualifiedTable(SchemaMain(), i.table) +
		"(" + cols + ") SELECT " + cols +
		" FROM " + qualifiedTable(i.schema, i.sourceTable) +
		" ORDER BY rowid DESC LIMIT 1"
}

// StatementForDeletingMigratedOneRow removes from the source the row the
// migrate statement just copied.
func (i *MigrationInfo) StatementForDeletingMigratedOneRow() string {
	source := qualifiedTable(i.schema, i.sourceTable)
	return "DELETE FROM " + source +
		" WHERE rowid == (SELECT max(rowid) FROM " + source + ")"
}

// StatementForDroppingSourceTable removes the drained source table together
// with its indices and triggers.
func (i *MigrationInfo) StatementForDroppingSourceTable() string {
	return "DROP TABLE IF EXISTS " + qualifiedTable(i.schema, i.sourceTable)
}
