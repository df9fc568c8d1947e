package wcdb

import (
	"context"
	"fmt"
	"time"
)

// MigrateHandle is the per-worker stepper. It owns one database handle, the
// schema currently attached for migration, a cached pair of prepared
// statements bound to the active info, and the duration-sample window that
// sizes each transaction. A MigrateHandle must be used by one goroutine at
// a time; independent databases migrate concurrently on independent
// handles.
type MigrateHandle struct {
	*Handle

	attached    Schema
	info        *MigrationInfo
	migrateStmt *Statement
	deleteStmt  *Statement
	sampler     durationSampler
}

// NewMigrateHandle wraps an open handle for migration. Errors surfaced
// through the wrapped handle are tagged with the migrate action.
func NewMigrateHandle(h *Handle) *MigrateHandle {
	h.action = ErrorActionMigrate
	return &MigrateHandle{
		Handle:      h,
		migrateStmt: h.NewStatement(),
		deleteStmt:  h.NewStatement(),
	}
}

// OpenMigrateHandle opens the database at path and wraps it for migration.
func OpenMigrateHandle(ctx context.Context, path string) (*MigrateHandle, error) {
	h, err := Open(ctx, path)
	if err != nil {
		return nil, err
	}
	return NewMigrateHandle(h), nil
}

// Close finalizes the statement pair, detaches any attached source schema,
// and closes the underlying handle. The handle must not be inside a
// transaction.
func (m *MigrateHandle) Close(ctx context.Context) error {
	m.finalizeMigrationStatements()
	err := m.detach(ctx)
	if closeErr := m.Handle.Close(); err == nil {
		err = closeErr
	}
	return err
}

// AllTables returns the user table names of the main schema, excluding the
// engine's builtin tables.
func (m *MigrateHandle) AllTables(ctx context.Context) (map[string]struct{}, error) {
	return m.Values(ctx, fmt.Sprintf(
		"SELECT name FROM main.sqlite_master WHERE type = 'table' AND name NOT LIKE '%s%%'",
		builtinTablePrefix,
	))
}

// SourceTableExists attaches the user info's source database and reports
// whether its source table exists.
func (m *MigrateHandle) SourceTableExists(ctx context.Context, u *MigrationUserInfo) (bool, error) {
	schema := u.SchemaForSourceDatabase()
	if err := m.reattach(ctx, u.SourceDatabase, schema); err != nil {
		return false, err
	}
	return m.TableExists(ctx, schema, u.SourceTable)
}

// ColumnsOfUserInfo looks up the destination table in the main schema and
// returns its column names and whether one of them aliases rowid. An absent
// destination yields an empty set.
func (m *MigrateHandle) ColumnsOfUserInfo(ctx context.Context, u *MigrationUserInfo) (integerPrimary bool, columns map[string]struct{}, err error) {
	columns = make(map[string]struct{})
	exists, err := m.TableExists(ctx, SchemaMain(), u.Table)
	if err != nil || !exists {
		return false, columns, err
	}
	metas, err := m.TableMeta(ctx, SchemaMain(), u.Table)
	if err != nil {
		return false, columns, err
	}
	for _, meta := range metas {
		columns[meta.Name] = struct{}{}
	}
	return IndexOfIntegerPrimary(metas) >= 0, columns, nil
}

// DropSourceTable attaches info's source database and drops the source
// table. Once the reattach succeeds, the active info is switched to info
// even when the drop itself fails, so later calls observe a consistent
// state.
func (m *MigrateHandle) DropSourceTable(ctx context.Context, info *MigrationInfo) error {
	if err := m.reattach(ctx, info.SourceDatabase(), info.SchemaForSourceDatabase()); err != nil {
		return err
	}
	m.info = info
	return m.Execute(ctx, info.StatementForDroppingSourceTable())
}

// MigrateRows moves rows described by info until the source drains or the
// sampled time budget runs out, inside one transaction. done reports that
// the source holds no more migratable rows; an absent destination counts as
// done since there is nothing to migrate into.
func (m *MigrateHandle) MigrateRows(ctx context.Context, info *MigrationInfo) (done bool, err error) {
	exists, err := m.TableExists(ctx, SchemaMain(), info.Table())
	if err != nil {
		return false, err
	}
	if !exists {
		return true, nil
	}

	if m.info != info {
		if err := m.reattach(ctx, info.SourceDatabase(), info.SchemaForSourceDatabase()); err != nil {
			return false, err
		}
		m.info = info
	}

	if !m.migrateStmt.IsPrepared() {
		if err := m.migrateStmt.Prepare(ctx, m.info.StatementForMigratingOneRow()); err != nil {
			return false, err
		}
	}
	if !m.deleteStmt.IsPrepared() {
		if err := m.deleteStmt.Prepare(ctx, m.info.StatementForDeletingMigratedOneRow()); err != nil {
			return false, err
		}
	}

	budget := m.sampler.nextBudget()
	start := time.Now()
	var within time.Duration
	drained := false
	moved := 0

	err = m.RunTransaction(ctx, func(*Handle) error {
		for {
			d, err := m.migrateRow(ctx)
			within = time.Since(start)
			if err != nil {
				return err
			}
			if d {
				drained = true
				return nil
			}
			moved++
			if within >= budget {
				return nil
			}
		}
	})
	if err != nil {
		// Statements stay prepared so a retry is cheap, and the sampler is
		// untouched so a failure path cannot poison the estimator.
		return false, err
	}

	if moved > 0 {
		m.sampler.record(within, time.Since(start))
	}
	return drained, nil
}

// migrateRow copies one row and deletes it from the source. drained is
// reported when the migrate statement affects no rows: the source-side
// cursor over not-yet-migrated rows came back empty. Must run inside a
// transaction with both statements prepared.
func (m *MigrateHandle) migrateRow(ctx context.Context) (drained bool, err error) {
	m.migrateStmt.Reset()
	m.deleteStmt.Reset()
	if err := m.migrateStmt.Step(ctx); err != nil {
		return false, err
	}
	if m.Changes() == 0 {
		return true, nil
	}
	return false, m.deleteStmt.Step(ctx)
}

// reattach switches the connection's migration context to (path, schema).
// The active info is cleared and the statement pair finalized even when the
// attach itself is a no-op, because the caller's intent is to switch
// contexts. On detach success followed by attach failure the handle is left
// with only the main schema attached. Must not be called inside a
// transaction.
func (m *MigrateHandle) reattach(ctx context.Context, path string, schema Schema) error {
	if m.IsInTransaction() {
		return fmt.Errorf("reattach inside transaction on %s", m.Path())
	}
	m.info = nil
	m.finalizeMigrationStatements()

	if m.attached.Equal(schema) {
		return nil
	}
	if err := m.detach(ctx); err != nil {
		return err
	}
	return m.attach(ctx, path, schema)
}

func (m *MigrateHandle) attach(ctx context.Context, path string, schema Schema) error {
	if schema.IsMain() {
		return nil
	}
	err := m.Execute(ctx, "ATTACH DATABASE "+quoteString(path)+" AS "+quoteIdent(schema.Name()))
	if err != nil {
		return err
	}
	m.attached = schema
	return nil
}

func (m *MigrateHandle) detach(ctx context.Context) error {
	if m.attached.IsMain() {
		return nil
	}
	err := m.Execute(ctx, "DETACH DATABASE "+quoteIdent(m.attached.Name()))
	if err != nil {
		return err
	}
	m.attached = SchemaMain()
	return nil
}

func (m *MigrateHandle) finalizeMigrationStatements() {
	m.migrateStmt.Finalize()
	m.deleteStmt.Finalize()
}
