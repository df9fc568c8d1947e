// Package wcdb is the incremental table-migration core of an embedded
// SQLite wrapper. A MigrateHandle moves rows from a source table, usually
// in a second database file attached under a derived schema name, into a
// destination table in the main database, one short transaction at a time,
// pacing itself so concurrent application traffic keeps the writer.
package wcdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// dmsSlotMask is the WAL index slot every connection to a WAL database
// holds shared for its lifetime.
const dmsSlotMask = 1

// Handle is one connection to a database file. It pins a single underlying
// connection so attach state and the change counter stay coherent, and it
// is not safe for concurrent use.
type Handle struct {
	db      *sql.DB
	conn    *sql.Conn
	path    string
	id      string
	action  string
	changes int64
	inTx    bool
}

// Open opens (creating if necessary) the database file at path in WAL mode.
func Open(ctx context.Context, path string) (*Handle, error) {
	hub := Shared()

	// Probe the database file through the hub's open hook so every file the
	// wrapper touches is announced. A probe failure is fatal-level but the
	// open itself still proceeds best-effort.
	if f, err := hub.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644); err != nil {
		SharedNotifier().Notify(&Error{
			Level:   LevelFatal,
			Code:    ErrorCodeCantOpen,
			Message: err.Error(),
			Info:    map[string]string{ErrorKeyPath: path},
		})
	} else {
		f.Close()
	}

	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, translateError(fmt.Errorf("connect: %w", err), "", path)
	}

	h := &Handle{db: db, conn: conn, path: path, id: uuid.NewString()}

	// journal_mode and busy_timeout both return a result row.
	var mode string
	if err := conn.QueryRowContext(ctx, "PRAGMA journal_mode=WAL").Scan(&mode); err != nil {
		h.Close()
		return nil, translateError(fmt.Errorf("enable WAL: %w", err), "", path)
	}
	var timeout int
	if err := conn.QueryRowContext(ctx, "PRAGMA busy_timeout=10000").Scan(&timeout); err != nil {
		h.Close()
		return nil, translateError(fmt.Errorf("set busy timeout: %w", err), "", path)
	}

	// A WAL connection holds the DMS slot shared until it closes.
	hub.postWillShmLock(path, ShmLockShared, dmsSlotMask)
	hub.postShmLockDidChange(path, h.id, dmsSlotMask, 0)

	return h, nil
}

// Path returns the database file path this handle is bound to.
func (h *Handle) Path() string {
	return h.path
}

// Identifier returns the opaque per-connection token carried by shm-lock
// events, usable by subscribers to deduplicate.
func (h *Handle) Identifier() string {
	return h.id
}

// Changes returns the number of rows affected by the most recently stepped
// statement on this connection.
func (h *Handle) Changes() int {
	return int(h.changes)
}

// IsInTransaction reports whether a transaction opened through
// RunTransaction is active.
func (h *Handle) IsInTransaction() bool {
	return h.inTx
}

// Execute runs a statement that is not reused, updating the change counter.
func (h *Handle) Execute(ctx context.Context, query string) error {
	res, err := h.conn.ExecContext(ctx, query)
	if err != nil {
		return translateError(err, h.action, h.path)
	}
	if n, err := res.RowsAffected(); err == nil {
		h.changes = n
	}
	return nil
}

// NewStatement returns an unprepared statement slot bound to this handle.
// Compilation is deferred to Statement.Prepare so slots can be allocated up
// front and prepared lazily.
func (h *Handle) NewStatement() *Statement {
	return &Statement{h: h}
}

// RunTransaction opens an immediate transaction, invokes fn, and commits
// when fn returns nil or rolls back otherwise. The transaction is closed on
// every path. Pager-lock events are posted at the points the engine's pager
// acquires and releases the corresponding locks.
func (h *Handle) RunTransaction(ctx context.Context, fn func(*Handle) error) error {
	if h.inTx {
		return fmt.Errorf("transaction already open on %s", h.path)
	}

	hub := Shared()
	hub.postWillLock(h.path, PagerLockReserved)
	if _, err := h.conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return translateError(err, h.action, h.path)
	}
	h.inTx = true
	defer func() {
		h.inTx = false
		hub.postLockDidChange(h.path, PagerLockNone)
	}()

	if err := fn(h); err != nil {
		h.conn.ExecContext(ctx, "ROLLBACK")
		return err
	}

	hub.postWillLock(h.path, PagerLockExclusive)
	if _, err := h.conn.ExecContext(ctx, "COMMIT"); err != nil {
		h.conn.ExecContext(ctx, "ROLLBACK")
		return translateError(err, h.action, h.path)
	}
	return nil
}

// Close releases the pinned connection and the pool behind it. The handle
// must not be closed while a transaction is open.
func (h *Handle) Close() error {
	var first error
	if h.conn != nil {
		first = h.conn.Close()
		h.conn = nil
	}
	if h.db != nil {
		err := h.db.Close()
		if first == nil {
			first = err
		}
		h.db = nil
	}
	return first
}
