package supervisor

import (
	"context"
	"time"
)

// LaunchSpec describes one worker invocation, independent of whether the
// Launcher backs it with a subprocess or a container (spec.md §6 "Launch
// contract").
type LaunchSpec struct {
	WorkerID     string
	Provider     string
	HostPort     int
	InnerPort    int
	WorkspaceDir string
	PromptsDir   string
	Env          map[string]string
}

// LaunchHandle is an opaque reference a Launcher hands back from Launch
// and expects unmodified in Stop/IsAlive/Tail calls.
type LaunchHandle struct {
	WorkerID string
	PID      int    // subprocess launches
	Name     string // container launches (container name)
}

// Launcher starts and stops the OS-level artifact backing a worker. Two
// implementations exist — SubprocessLauncher and ContainerLauncher —
// selected by config.LaunchMode; callers depend only on this interface
// (spec.md's Open Question 1).
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (LaunchHandle, error)
	Stop(ctx context.Context, handle LaunchHandle, grace time.Duration) error
	IsAlive(handle LaunchHandle) bool
	// CleanupStale removes any artifact matching namingPrefix left over
	// from a previous gateway run (spec.md §4.2 edge-case policy).
	CleanupStale(ctx context.Context, namingPrefix string) error
}

// LogTailer is implemented by Launchers that can return recent worker
// output. get_logs (spec.md §4.8) degrades to an empty result for a
// Launcher that doesn't implement it.
type LogTailer interface {
	Tail(workerID string, n int) ([]string, error)
}

// StallReporter is implemented by Launchers that track when a worker last
// produced output, for subprocess-mode stall detection (SPEC_FULL.md §12).
// Only SubprocessLauncher implements it — a container has no local
// stdout/stderr pipe for the gateway to watch.
type StallReporter interface {
	LastOutputAt(workerID string) (time.Time, bool)
}
