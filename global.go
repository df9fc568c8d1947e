package wcdb

import (
	"io/fs"
	"os"
	"sync"
)

// PagerLock is the pager-level lock state of a database file.
type PagerLock int

const (
	PagerLockNone PagerLock = iota
	PagerLockShared
	PagerLockReserved
	PagerLockPending
	PagerLockExclusive
)

// ShmLock is the kind of lock taken on a WAL index slot.
type ShmLock int

const (
	ShmLockShared ShmLock = iota + 1
	ShmLockExclusive
)

// Notification callback shapes. Callbacks run synchronously on the thread
// that triggered the event, under the hub's shared lock; they must be
// non-blocking and must not reenter the hub.
type (
	LogNotification              func(code int, message string)
	FileOpenedNotification       func(fd int, path string, flag int, perm fs.FileMode)
	WillLockNotification         func(path string, lock PagerLock)
	LockDidChangeNotification    func(path string, lock PagerLock)
	WillShmLockNotification      func(path string, lock ShmLock, mask int)
	ShmLockDidChangeNotification func(path, identifier string, sharedMask, exclusiveMask int)
)

// lockEvent bundles the four independently optional lock callbacks of one
// subscriber. Absent members are simply not invoked.
type lockEvent struct {
	willLock         WillLockNotification
	lockDidChange    LockDidChangeNotification
	willShmLock      WillShmLockNotification
	shmLockDidChange ShmLockDidChangeNotification
}

// Global is the process-wide notification hub. It multiplexes engine-level
// events (log lines, database file opens, pager- and shm-lock transitions)
// to named subscribers. It is created lazily and never torn down.
type Global struct {
	mu         sync.RWMutex
	logs       map[string]LogNotification
	fileOpened map[string]FileOpenedNotification
	lockEvents map[string]lockEvent
}

var (
	globalOnce   sync.Once
	globalShared *Global
)

// Initialize ensures the hub singleton exists. Idempotent.
func Initialize() {
	Shared()
}

// Shared returns the hub singleton.
func Shared() *Global {
	globalOnce.Do(func() {
		globalShared = &Global{
			logs:       make(map[string]LogNotification),
			fileOpened: make(map[string]FileOpenedNotification),
			lockEvents: make(map[string]lockEvent),
		}
	})
	return globalShared
}

// SetNotificationForLog registers or removes a log subscriber under name.
func (g *Global) SetNotificationForLog(name string, notification LogNotification) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if notification != nil {
		g.logs[name] = notification
	} else {
		delete(g.logs, name)
	}
}

func (g *Global) postLog(code int, message string) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, notification := range g.logs {
		notification(code, message)
	}
}

// SetNotificationWhenFileOpened registers or removes a file-open subscriber
// under name.
func (g *Global) SetNotificationWhenFileOpened(name string, notification FileOpenedNotification) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if notification != nil {
		g.fileOpened[name] = notification
	} else {
		delete(g.fileOpened, name)
	}
}

// OpenFile is the wrapper's file-open hook: it performs the real open, then
// announces the result to every file-opened subscriber. The file and error
// are returned unchanged, including on failure.
func (g *Global) OpenFile(path string, flag int, perm fs.FileMode) (*os.File, error) {
	f, err := os.OpenFile(path, flag, perm)
	fd := -1
	if f != nil {
		fd = int(f.Fd())
	}
	g.postFileOpened(fd, path, flag, perm)
	return f, err
}

func (g *Global) postFileOpened(fd int, path string, flag int, perm fs.FileMode) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, notification := range g.fileOpened {
		notification(fd, path, flag, perm)
	}
}

// SetNotificationForLockEvent registers a lock-event subscriber under name.
// Each of the four callbacks is independently optional; a subscriber with
// all four nil is removed.
func (g *Global) SetNotificationForLockEvent(
	name string,
	willLock WillLockNotification,
	lockDidChange LockDidChangeNotification,
	willShmLock WillShmLockNotification,
	shmLockDidChange ShmLockDidChangeNotification,
) {
	g.mu.Lock()
	defer g.mu.Unlock()
	event := lockEvent{
		willLock:         willLock,
		lockDidChange:    lockDidChange,
		willShmLock:      willShmLock,
		shmLockDidChange: shmLockDidChange,
	}
	if willLock == nil && lockDidChange == nil && willShmLock == nil && shmLockDidChange == nil {
		delete(g.lockEvents, name)
		return
	}
	g.lockEvents[name] = event
}

func (g *Global) postWillLock(path string, lock PagerLock) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, event := range g.lockEvents {
		if event.willLock != nil {
			event.willLock(path, lock)
		}
	}
}

func (g *Global) postLockDidChange(path string, lock PagerLock) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, event := range g.lockEvents {
		if event.lockDidChange != nil {
			event.lockDidChange(path, lock)
		}
	}
}

func (g *Global) postWillShmLock(path string, lock ShmLock, mask int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, event := range g.lockEvents {
		if event.willShmLock != nil {
			event.willShmLock(path, lock, mask)
		}
	}
}

func (g *Global) postShmLockDidChange(path, identifier string, sharedMask, exclusiveMask int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, event := range g.lockEvents {
		if event.shmLockDidChange != nil {
			event.shmLockDidChange(path, identifier, sharedMask, exclusiveMask)
		}
	}
}
