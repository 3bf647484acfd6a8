package gateway

import "context"

// EmitFunc is how a worker hands merged bytes to the shared Drain (spec
// §4.4 "emit bytes to the Drain under an ordering policy"). key is the
// chunk's position for OrderedDrain and is ignored by UnorderedDrain.
type EmitFunc func(ctx context.Context, key int, chunk []byte) error

// Worker is the capability every format-specific merging strategy
// implements (spec §9 "a shared Worker capability {run_job, merge,
// flush}"). merge is folded into RunJob here since every variant's
// merge step is inseparable from its own fetch/parse loop; there is no
// cross-job merge state to flush separately (see stationXMLMerger on why
// job construction already scopes merge state correctly).
type Worker interface {
	// RunJob fetches and merges job's routes and emits the result via
	// the EmitFunc captured at construction time. A returned
	// *ferrors.Error with Kind == KindPayloadTooLarge (spec §4.6 "413 →
	// fatal") or Kind == KindInternal (e.g. the JSON rescan-window
	// violation) is fatal and must propagate to the client; any other
	// per-route failure must be absorbed internally as no-data for that
	// route (spec §7 "Local recovery").
	RunJob(ctx context.Context, job Job) error
}

// WorkerDeps bundles the collaborators a WorkerFactory closes over to
// build a Worker (spec §9 "Mixins for caching / retry-budget. ...
// Replace with explicit dependencies").
type WorkerDeps struct {
	Fetcher *Fetcher
	Emit    EmitFunc
	Prepare func()
	// Format is the upstream query-string format parameter (spec §6).
	Format string
	// Level selects the StationXML merge rule set; ignored by other
	// workers.
	Level string
	// ChunkSize bounds the JSON tail-recovery rescan window (spec §9
	// "Backwards buffer scanning for JSON tail recovery").
	ChunkSize int
	// HeaderPrefix identifies a line-oriented text response's leading
	// header line by content rather than position; empty means the
	// format has no header to deduplicate. Ignored by non-text workers.
	HeaderPrefix string
}

// WorkerFactory builds a fresh Worker for one job-processing goroutine
// invocation (spec §9 "a static map from service_id → worker_factory").
type WorkerFactory func(deps WorkerDeps) Worker
