// Package events provides the in-process event bus used to chain and observe pipeline work.
package events

import "time"

// EventType represents different event types
type EventType string

const (
	// Snapshot pipeline
	RatesSnapshotted      EventType = "snapshot.rates.completed"
	AssetsSnapshotted     EventType = "snapshot.assets.completed"
	FullSnapshotCompleted EventType = "snapshot.full.completed"

	// Task lifecycle
	TaskFinished EventType = "task.finished"
	TaskFailed   EventType = "task.failed"
	TaskSkipped  EventType = "task.skipped"

	// Maintenance
	BackupUploaded EventType = "maintenance.backup.uploaded"
)

// Event is one published event with its payload
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Data      any       `json:"data,omitempty"`
}
