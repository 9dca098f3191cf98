package events

import "time"

// EventData is the interface that all event data types must implement
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// RatesSnapshottedData contains data for RatesSnapshotted events
type RatesSnapshottedData struct {
	SnapshotTime time.Time `json:"snapshot_time"`
	Pairs        int       `json:"pairs"`
	Succeeded    int       `json:"succeeded"`
	Failed       []string  `json:"failed,omitempty"`
}

// EventType returns the event type for RatesSnapshottedData
func (d *RatesSnapshottedData) EventType() EventType {
	return RatesSnapshotted
}

// AssetsSnapshottedData contains data for AssetsSnapshotted events
type AssetsSnapshottedData struct {
	SnapshotTime       time.Time `json:"snapshot_time"`
	Rows               int       `json:"rows"`
	SucceededProviders []string  `json:"succeeded_providers"`
	FailedProviders    []string  `json:"failed_providers,omitempty"`
	Unconverted        int       `json:"unconverted"`
}

// EventType returns the event type for AssetsSnapshottedData
func (d *AssetsSnapshottedData) EventType() EventType {
	return AssetsSnapshotted
}

// FullSnapshotData contains data for FullSnapshotCompleted events
type FullSnapshotData struct {
	RateSnapshotTime  time.Time `json:"rate_snapshot_time"`
	AssetSnapshotTime time.Time `json:"asset_snapshot_time"`
	AssetsSucceeded   bool      `json:"assets_succeeded"`
}

// EventType returns the event type for FullSnapshotData
func (d *FullSnapshotData) EventType() EventType {
	return FullSnapshotCompleted
}

// TaskOutcomeData is attached to task lifecycle events
type TaskOutcomeData struct {
	TaskID      string        `json:"task_id"`
	ExecutionID string        `json:"execution_id,omitempty"`
	Outcome     string        `json:"outcome"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration_ns,omitempty"`
}

// EventType returns the event type matching the outcome
func (d *TaskOutcomeData) EventType() EventType {
	switch d.Outcome {
	case "failed":
		return TaskFailed
	case "skipped":
		return TaskSkipped
	default:
		return TaskFinished
	}
}

// BackupUploadedData contains data for BackupUploaded events
type BackupUploadedData struct {
	Bucket    string `json:"bucket"`
	Key       string `json:"key"`
	SizeBytes int64  `json:"size_bytes"`
	Rotated   int    `json:"rotated"`
}

// EventType returns the event type for BackupUploadedData
func (d *BackupUploadedData) EventType() EventType {
	return BackupUploaded
}
