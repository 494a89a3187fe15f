package notify

// Provider defines the notification contract for ingest run events.
// Different backends (Slack, email) can implement it; tests use fakes.
type Provider interface {
	// RunStarted sends notification when an ingest run starts.
	RunStarted(runID string, partitionCount int) error

	// RunCompleted sends notification when a run finishes, including runs
	// that skipped partitions under the transient-error policy.
	RunCompleted(runID string, summary Summary) error

	// RunFailed sends notification when a run aborts fatally.
	RunFailed(runID string, err error, summary Summary) error

	// PartitionSkipped sends notification for a partition skipped after
	// exhausted transient-error retries.
	PartitionSkipped(runID, partition string, err error) error
}

// Summary carries the counts included in run notifications.
type Summary struct {
	PartitionsProcessed int
	PartitionsSkipped   int
	RecordsFetched      int64
	RecordsAccepted     int64
	RecordsRejected     int64
	DurationSecs        float64
}

// Ensure Notifier implements Provider
var _ Provider = (*Notifier)(nil)
