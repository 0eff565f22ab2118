package supervisor

import "errors"

var (
	// ErrNotConnected is returned by Send when a worker has no open stream.
	ErrNotConnected = errors.New("supervisor: worker stream is not connected")
	// ErrUnknownProvider is returned by Start when the provider has no
	// matching entry in the gateway's configuration.
	ErrUnknownProvider = errors.New("supervisor: unknown provider")
	// ErrSpawnTimeout is returned by Start when the worker never reports
	// healthy within the configured readiness deadline.
	ErrSpawnTimeout = errors.New("supervisor: worker did not become healthy before deadline")
	// ErrAlreadyStopping names a stop already in flight for a worker id.
	// Stop does not return it: a Stop that finds one in flight returns nil.
	ErrAlreadyStopping = errors.New("supervisor: worker is already stopping")
	// ErrUnknownWorker names a worker id the Supervisor has no record of.
	// No Supervisor method returns it; Stop on an unknown id returns nil.
	ErrUnknownWorker = errors.New("supervisor: unknown worker id")
)
