package wcdb

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"modernc.org/sqlite"
)

// Level classifies the severity of an error record.
type Level int

const (
	LevelWarning Level = iota
	LevelError
	LevelFatal
)

func (l Level) String() string {
	switch l {
	case LevelWarning:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	}
	return "UNKNOWN"
}

// ErrorCode is the generic classification of a storage-engine failure.
// The engine's native result code is preserved in Error.ExtCode.
type ErrorCode int

const (
	ErrorCodeError ErrorCode = iota
	ErrorCodeBusy
	ErrorCodeLocked
	ErrorCodeIOError
	ErrorCodeCorrupt
	ErrorCodeFull
	ErrorCodeCantOpen
	ErrorCodeConstraint
	ErrorCodeReadonly
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeBusy:
		return "Busy"
	case ErrorCodeLocked:
		return "Locked"
	case ErrorCodeIOError:
		return "IOError"
	case ErrorCodeCorrupt:
		return "Corrupt"
	case ErrorCodeFull:
		return "Full"
	case ErrorCodeCantOpen:
		return "CantOpen"
	case ErrorCodeConstraint:
		return "Constraint"
	case ErrorCodeReadonly:
		return "Readonly"
	}
	return "Error"
}

// codeFromEngine maps an engine result code (primary part of the extended
// code) to its generic classification.
func codeFromEngine(rc int) ErrorCode {
	switch rc & 0xff {
	case 5:
		return ErrorCodeBusy
	case 6:
		return ErrorCodeLocked
	case 8:
		return ErrorCodeReadonly
	case 10:
		return ErrorCodeIOError
	case 11:
		return ErrorCodeCorrupt
	case 13:
		return ErrorCodeFull
	case 14:
		return ErrorCodeCantOpen
	case 19:
		return ErrorCodeConstraint
	}
	return ErrorCodeError
}

// Error keys used in Info maps.
const (
	ErrorKeyAction = "Action"
	ErrorKeyPath   = "Path"
	ErrorKeySQL    = "SQL"
)

// ErrorActionMigrate tags records originating from the migration runtime.
const ErrorActionMigrate = "migrate"

// Error is the record posted to the notifier and returned to callers when
// the storage engine fails.
type Error struct {
	Level   Level
	Code    ErrorCode
	ExtCode int
	Message string
	Info    map[string]string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.ExtCode, e.Message)
}

func (e *Error) setInfo(key, value string) {
	if e.Info == nil {
		e.Info = make(map[string]string)
	}
	e.Info[key] = value
}

// ErrorNotification receives every record posted to the notifier.
type ErrorNotification func(*Error)

// Notifier is the process-wide sink for error records. Observers are keyed
// by name; a nil callback removes the entry.
type Notifier struct {
	mu        sync.RWMutex
	observers map[string]ErrorNotification
}

var (
	notifierOnce   sync.Once
	notifierShared *Notifier
)

// SharedNotifier returns the process-wide notifier, creating it on first
// use with a default observer that writes to the standard logger.
func SharedNotifier() *Notifier {
	notifierOnce.Do(func() {
		notifierShared = &Notifier{
			observers: map[string]ErrorNotification{
				"wcdb.log": logError,
			},
		}
	})
	return notifierShared
}

// SetNotification registers or removes an observer under name.
func (n *Notifier) SetNotification(name string, notification ErrorNotification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if notification != nil {
		n.observers[name] = notification
	} else {
		delete(n.observers, name)
	}
}

// Notify dispatches a record to every observer. Observers run under the
// shared lock and must not reenter the notifier.
func (n *Notifier) Notify(e *Error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, observer := range n.observers {
		observer(e)
	}
}

func logError(e *Error) {
	if len(e.Info) > 0 {
		log.Printf("%s: %v %v", e.Level, e, e.Info)
		return
	}
	log.Printf("%s: %v", e.Level, e)
}

// translateError converts a raw engine error into an *Error record, tags
// it, broadcasts it to the hub's log subscribers, and posts it to the
// notifier. Records already translated pass through untouched so an error
// is posted exactly once.
func translateError(err error, action, path string) error {
	if err == nil {
		return nil
	}
	var record *Error
	if errors.As(err, &record) {
		return err
	}

	record = &Error{Level: LevelError, Message: err.Error()}
	var engineErr *sqlite.Error
	if errors.As(err, &engineErr) {
		record.ExtCode = engineErr.Code()
		record.Code = codeFromEngine(engineErr.Code())
	}
	if action != "" {
		record.setInfo(ErrorKeyAction, action)
	}
	if path != "" {
		record.setInfo(ErrorKeyPath, path)
	}
	Shared().postLog(record.ExtCode, record.Message)
	SharedNotifier().Notify(record)
	return record
}
