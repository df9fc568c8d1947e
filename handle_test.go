package wcdb

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func newTestHandle(t *testing.T, path string) *Handle {
	t.Helper()
	h, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestExecuteTracksChanges(t *testing.T) {
	ctx := context.Background()
	h := newTestHandle(t, filepath.Join(t.TempDir(), "changes.db"))

	mustExecute(t, h, "CREATE TABLE t(v INTEGER)")
	mustExecute(t, h, "INSERT INTO t(v) VALUES (1), (2), (3)")
	if h.Changes() != 3 {
		t.Errorf("Changes() = %d after 3-row insert, want 3", h.Changes())
	}

	mustExecute(t, h, "DELETE FROM t WHERE v > 10")
	if h.Changes() != 0 {
		t.Errorf("Changes() = %d after no-op delete, want 0", h.Changes())
	}

	if err := h.Execute(ctx, "INSERT INTO missing VALUES (1)"); err == nil {
		t.Fatal("insert into missing table succeeded")
	} else {
		var record *Error
		if !errors.As(err, &record) {
			t.Errorf("engine failure not translated: %T %v", err, err)
		}
	}
}

func TestTableExists(t *testing.T) {
	ctx := context.Background()
	h := newTestHandle(t, filepath.Join(t.TempDir(), "exists.db"))
	mustExecute(t, h, "CREATE TABLE present(v INTEGER)")

	tests := []struct {
		table string
		want  bool
	}{
		{"present", true},
		{"absent", false},
	}
	for _, tt := range tests {
		got, err := h.TableExists(ctx, SchemaMain(), tt.table)
		if err != nil {
			t.Fatalf("TableExists(%q): %v", tt.table, err)
		}
		if got != tt.want {
			t.Errorf("TableExists(%q) = %t, want %t", tt.table, got, tt.want)
		}
	}
}

func TestTableMeta(t *testing.T) {
	ctx := context.Background()
	h := newTestHandle(t, filepath.Join(t.TempDir(), "meta.db"))
	mustExecute(t, h, "CREATE TABLE t(id INTEGER PRIMARY KEY, name TEXT NOT NULL DEFAULT 'anon')")

	metas, err := h.TableMeta(ctx, SchemaMain(), "t")
	if err != nil {
		t.Fatalf("TableMeta: %v", err)
	}
	if len(metas) != 2 {
		t.Fatalf("got %d columns, want 2", len(metas))
	}
	if metas[0].Name != "id" || metas[0].PrimaryKeyPos != 1 {
		t.Errorf("id meta = %+v", metas[0])
	}
	if metas[1].Name != "name" || !metas[1].NotNull {
		t.Errorf("name meta = %+v", metas[1])
	}
	if metas[1].Default == nil || *metas[1].Default != "'anon'" {
		t.Errorf("name default = %v, want 'anon' literal", metas[1].Default)
	}

	// A missing table yields no columns, not an error.
	metas, err = h.TableMeta(ctx, SchemaMain(), "missing")
	if err != nil {
		t.Fatalf("TableMeta(missing): %v", err)
	}
	if len(metas) != 0 {
		t.Errorf("missing table produced %d columns", len(metas))
	}
}

func TestIndexOfIntegerPrimary(t *testing.T) {
	tests := []struct {
		name  string
		metas []ColumnMeta
		want  int
	}{
		{
			"integer primary",
			[]ColumnMeta{{Name: "id", Type: "INTEGER", PrimaryKeyPos: 1}, {Name: "v", Type: "TEXT"}},
			0,
		},
		{
			"text primary",
			[]ColumnMeta{{Name: "id", Type: "TEXT", PrimaryKeyPos: 1}},
			-1,
		},
		{
			"composite primary",
			[]ColumnMeta{
				{Name: "a", Type: "INTEGER", PrimaryKeyPos: 1},
				{Name: "b", Type: "INTEGER", PrimaryKeyPos: 2},
			},
			-1,
		},
		{
			"no primary",
			[]ColumnMeta{{Name: "v", Type: "INTEGER"}},
			-1,
		},
		{
			"lowercase declared type",
			[]ColumnMeta{{Name: "x", Type: "TEXT"}, {Name: "id", Type: "integer", PrimaryKeyPos: 1}},
			1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IndexOfIntegerPrimary(tt.metas); got != tt.want {
				t.Errorf("IndexOfIntegerPrimary() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestValues(t *testing.T) {
	ctx := context.Background()
	h := newTestHandle(t, filepath.Join(t.TempDir(), "values.db"))
	mustExecute(t, h, "CREATE TABLE t(name TEXT)")
	mustExecute(t, h, "INSERT INTO t(name) VALUES ('a'), ('b'), ('a')")

	values, err := h.Values(ctx, "SELECT name FROM t")
	if err != nil {
		t.Fatalf("Values: %v", err)
	}
	if len(values) != 2 {
		t.Fatalf("got %d distinct values, want 2", len(values))
	}
	for _, want := range []string{"a", "b"} {
		if _, ok := values[want]; !ok {
			t.Errorf("missing value %q", want)
		}
	}
}

func TestRunTransactionCommit(t *testing.T) {
	ctx := context.Background()
	h := newTestHandle(t, filepath.Join(t.TempDir(), "commit.db"))
	mustExecute(t, h, "CREATE TABLE t(v INTEGER)")

	err := h.RunTransaction(ctx, func(h *Handle) error {
		if !h.IsInTransaction() {
			t.Error("IsInTransaction() = false inside transaction body")
		}
		return h.Execute(ctx, "INSERT INTO t(v) VALUES (1)")
	})
	if err != nil {
		t.Fatalf("RunTransaction: %v", err)
	}
	if h.IsInTransaction() {
		t.Error("IsInTransaction() = true after commit")
	}

	n, err := h.RowCount(ctx, SchemaMain(), "t")
	if err != nil {
		t.Fatalf("RowCount: %v", err)
	}
	if n != 1 {
		t.Errorf("row count = %d, want 1", n)
	}
}

func TestRunTransactionRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	h := newTestHandle(t, filepath.Join(t.TempDir(), "rollback.db"))
	mustExecute(t, h, "CREATE TABLE t(v INTEGER)")

	boom := errors.New("boom")
	err := h.RunTransaction(ctx, func(h *Handle) error {
		if err := h.Execute(ctx, "INSERT INTO t(v) VALUES (1)"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunTransaction error = %v, want %v", err, boom)
	}
	if h.IsInTransaction() {
		t.Error("transaction leaked after rollback")
	}

	n, err := h.RowCount(ctx, SchemaMain(), "t")
	if err != nil {
		t.Fatalf("RowCount: %v", err)
	}
	if n != 0 {
		t.Errorf("row count = %d after rollback, want 0", n)
	}

	// The handle stays usable.
	mustExecute(t, h, "INSERT INTO t(v) VALUES (2)")
}

func TestRunTransactionPostsLockEvents(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "locks.db")
	h := newTestHandle(t, path)
	mustExecute(t, h, "CREATE TABLE t(v INTEGER)")

	var wills []PagerLock
	var dids []PagerLock
	Shared().SetNotificationForLockEvent("lock-test",
		func(p string, lock PagerLock) {
			if p == path {
				wills = append(wills, lock)
			}
		},
		func(p string, lock PagerLock) {
			if p == path {
				dids = append(dids, lock)
			}
		},
		nil, nil,
	)
	defer Shared().SetNotificationForLockEvent("lock-test", nil, nil, nil, nil)

	if err := h.RunTransaction(ctx, func(h *Handle) error {
		return h.Execute(ctx, "INSERT INTO t(v) VALUES (1)")
	}); err != nil {
		t.Fatalf("RunTransaction: %v", err)
	}

	wantWills := []PagerLock{PagerLockReserved, PagerLockExclusive}
	if len(wills) != len(wantWills) || wills[0] != wantWills[0] || wills[1] != wantWills[1] {
		t.Errorf("will-lock events = %v, want %v", wills, wantWills)
	}
	if len(dids) != 1 || dids[0] != PagerLockNone {
		t.Errorf("lock-did-change events = %v, want [None]", dids)
	}
}

func mustExecute(t *testing.T, h *Handle, query string) {
	t.Helper()
	if err := h.Execute(context.Background(), query); err != nil {
		t.Fatalf("execute %q: %v", query, err)
	}
}
