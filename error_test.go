package wcdb

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeFromEngine(t *testing.T) {
	tests := []struct {
		rc   int
		want ErrorCode
	}{
		{5, ErrorCodeBusy},
		{6, ErrorCodeLocked},
		{10, ErrorCodeIOError},
		{11, ErrorCodeCorrupt},
		{14, ErrorCodeCantOpen},
		{19, ErrorCodeConstraint},
		{261, ErrorCodeBusy},        // SQLITE_BUSY_RECOVERY keeps the primary code
		{1555, ErrorCodeConstraint}, // SQLITE_CONSTRAINT_PRIMARYKEY
		{1, ErrorCodeError},
	}
	for _, tt := range tests {
		if got := codeFromEngine(tt.rc); got != tt.want {
			t.Errorf("codeFromEngine(%d) = %v, want %v", tt.rc, got, tt.want)
		}
	}
}

func TestNotifierFanOutAndRemoval(t *testing.T) {
	n := SharedNotifier()
	var got []*Error
	n.SetNotification("test", func(e *Error) { got = append(got, e) })
	defer n.SetNotification("test", nil)

	record := &Error{Level: LevelError, Code: ErrorCodeBusy, Message: "database is locked"}
	n.Notify(record)
	if len(got) != 1 || got[0] != record {
		t.Fatalf("observer received %v", got)
	}

	n.SetNotification("test", nil)
	n.Notify(record)
	if len(got) != 1 {
		t.Errorf("removed observer still fired, got %d records", len(got))
	}
}

func TestTranslateErrorTagsAndNotifiesOnce(t *testing.T) {
	n := SharedNotifier()
	notified := 0
	n.SetNotification("count", func(e *Error) { notified++ })
	defer n.SetNotification("count", nil)

	raw := fmt.Errorf("step: %w", errors.New("disk I/O error"))
	err := translateError(raw, ErrorActionMigrate, "/tmp/a.db")

	var record *Error
	if !errors.As(err, &record) {
		t.Fatalf("translateError returned %T", err)
	}
	if record.Info[ErrorKeyAction] != ErrorActionMigrate {
		t.Errorf("action tag = %q, want %q", record.Info[ErrorKeyAction], ErrorActionMigrate)
	}
	if record.Info[ErrorKeyPath] != "/tmp/a.db" {
		t.Errorf("path tag = %q", record.Info[ErrorKeyPath])
	}
	if notified != 1 {
		t.Fatalf("notified %d times, want 1", notified)
	}

	// Re-translating an already-translated error must not re-post it.
	if again := translateError(err, ErrorActionMigrate, "/tmp/a.db"); again != err {
		t.Error("translated error not passed through")
	}
	if notified != 1 {
		t.Errorf("notified %d times after passthrough, want 1", notified)
	}

	if translateError(nil, "", "") != nil {
		t.Error("nil error should translate to nil")
	}
}
