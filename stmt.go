package wcdb

import (
	"context"
	"database/sql"
)

// Statement is a prepared-statement slot owned by a handle. A slot starts
// unprepared; Prepare binds it to SQL text, Step executes it, and Finalize
// returns it to the unprepared state. A prepared statement is bound to the
// schemas visible at prepare time and must be finalized before the handle
// attaches or detaches.
type Statement struct {
	h    *Handle
	stmt *sql.Stmt
	text string
}

// Prepare compiles text against the handle's connection. Preparing an
// already-prepared slot with the same text is a no-op.
func (s *Statement) Prepare(ctx context.Context, text string) error {
	if s.stmt != nil {
		if s.text == text {
			return nil
		}
		s.Finalize()
	}
	prepared, err := s.h.conn.PrepareContext(ctx, text)
	if err != nil {
		return translateError(err, s.h.action, s.h.path)
	}
	s.stmt = prepared
	s.text = text
	return nil
}

// IsPrepared reports whether the slot currently holds a compiled statement.
func (s *Statement) IsPrepared() bool {
	return s.stmt != nil
}

// Step executes the statement once and records the affected-row count on
// the owning handle.
func (s *Statement) Step(ctx context.Context) error {
	res, err := s.stmt.ExecContext(ctx)
	if err != nil {
		return translateError(err, s.h.action, s.h.path)
	}
	if n, err := res.RowsAffected(); err == nil {
		s.h.changes = n
	}
	return nil
}

// Reset rewinds the statement so it can be stepped again. Cursor state
// lives inside the driver and is rewound implicitly on the next execution;
// Reset exists so call sites can pair it with Step at loop boundaries.
func (s *Statement) Reset() {}

// Finalize releases the compiled statement and returns the slot to the
// unprepared state. Finalizing an unprepared slot is a no-op.
func (s *Statement) Finalize() {
	if s.stmt != nil {
		s.stmt.Close()
	}
	s.stmt = nil
	s.text = ""
}
