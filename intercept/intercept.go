//go:build linux && amd64

// Package intercept wraps libc-style filesystem entry points. Each
// wrapper packages the call into a FileEvent, runs the audit against
// the calling process's own filesystem view, hands the verdict to the
// report logger, and then always forwards the call to the kernel
// unchanged. Verdicts never block the call.
package intercept

import (
	"runtime"
	"sync"

	"golang.org/x/sys/unix"

	pathauditor "github.com/google/path-auditor"
	"github.com/google/path-auditor/internal/logging"
)

var procInfo pathauditor.ProcessInformation = pathauditor.SameProcessInformation{}

// auditing tracks which OS threads are currently inside an audit so
// that the auditor's own filesystem calls are never re-audited.
var auditing sync.Map

// enterAudit marks the current thread as auditing. It reports false if
// the thread is already inside an audit; otherwise the caller must
// invoke the returned release function on every exit path.
func enterAudit() (func(), bool) {
	runtime.LockOSThread()
	tid := unix.Gettid()
	if _, busy := auditing.Load(tid); busy {
		runtime.UnlockOSThread()
		return nil, false
	}
	auditing.Store(tid, struct{}{})
	return func() {
		auditing.Delete(tid)
		runtime.UnlockOSThread()
	}, true
}

// audit runs the dispatcher on one event and reports the outcome.
func audit(event pathauditor.FileEvent, functionName string) {
	release, ok := enterAudit()
	if !ok {
		return
	}
	defer release()

	controlled, err := pathauditor.FileEventIsUserControlled(procInfo, event)
	if err != nil {
		logging.LogAuditError(err)
		return
	}
	if controlled {
		logging.LogInsecureAccess(event, functionName)
	}
}
