package ledger

import "time"

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunPartial   RunStatus = "partial"
	RunFailed    RunStatus = "failed"
)

// AssetStatus is the outcome of one asset.
type AssetStatus string

const (
	AssetBundled AssetStatus = "bundled"
	AssetFailed  AssetStatus = "failed"
)

// Run is one invocation of the dump pipeline.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     RunStatus
	Modes      string
	Succeeded  int
	Failed     int
	Error      string
}

// Asset is the recorded outcome of one asset within a run.
type Asset struct {
	RunID      string
	Mode       string
	Kind       string
	Container  string
	BaseName   string
	SourcePath string
	BundlePath string
	Digest     string
	SizeBytes  int64
	Status     AssetStatus
	Error      string
	RecordedAt time.Time
}
