package wal

import "sync"

// failAction names what a triggered failpoint does (§4.3/§9 Design Notes).
type failAction string

const (
	failError        failAction = "error"
	failPartialWrite failAction = "partialWrite"
	failDropFsync    failAction = "dropFsync"
)

// Named failpoint sites, matching the registry in the Design Notes.
const (
	SiteWriteFrame     = "wal_write_frame"
	SiteFsync          = "wal_fsync"
	SiteCheckpointPage = "checkpoint_write_page"
	SiteCheckpointSync = "checkpoint_fsync"
)

// failpoints is a process-wide registry used only by tests to inject
// deterministic faults at named sites; production code paths never touch
// it outside of the checks below.
var failpoints = struct {
	mu   sync.Mutex
	acts map[string]failAction
}{acts: make(map[string]failAction)}

// SetFailpoint arms a named site with an action. Safe for concurrent test
// use; the db under test is expected to be single-writer already.
func SetFailpoint(site string, action string) {
	failpoints.mu.Lock()
	defer failpoints.mu.Unlock()
	failpoints.acts[site] = failAction(action)
}

// ClearFailpoints disarms every site.
func ClearFailpoints() {
	failpoints.mu.Lock()
	defer failpoints.mu.Unlock()
	failpoints.acts = make(map[string]failAction)
}

func failpointAt(site string) (failAction, bool) {
	failpoints.mu.Lock()
	defer failpoints.mu.Unlock()
	a, ok := failpoints.acts[site]
	return a, ok
}
