// Package publisher defines the notification published when a crawl run ends.
package publisher

import (
	"strconv"

	"github.com/JakeFAU/genealogy-crawler/internal/snapshot"
)

// EventRunCompleted is the event_type attribute of run notifications.
const EventRunCompleted = "run_completed"

// RunCompleted summarizes a finished run for downstream consumers.
type RunCompleted struct {
	RunID          string `json:"run_id"`
	Timestamp      string `json:"timestamp"`
	StartID        int    `json:"start_id"`
	LastValidID    int    `json:"last_valid_id"`
	TotalNodes     int    `json:"total_nodes"`
	TotalEdges     int    `json:"total_edges"`
	NewRecords     int    `json:"new_records"`
	IDsAttempted   int    `json:"ids_attempted"`
	ErrorsCount    int    `json:"errors_count"`
	StopReason     string `json:"stop_reason"`
	MetadataFile   string `json:"metadata_file,omitempty"`
	ErrorsFile     string `json:"errors_file,omitempty"`
	DataFile       string `json:"data_file,omitempty"`
	ArtifactPrefix string `json:"artifact_prefix,omitempty"`
}

// NewRunCompleted builds the notification for snap.
func NewRunCompleted(snap snapshot.Snapshot, paths snapshot.Paths, dataFile string) RunCompleted {
	return RunCompleted{
		RunID:        snap.RunID,
		Timestamp:    snap.Timestamp,
		StartID:      snap.StartID,
		LastValidID:  snap.LastValidID,
		TotalNodes:   snap.TotalNodes,
		TotalEdges:   snap.TotalEdges,
		NewRecords:   snap.NewRecordsThisRun,
		IDsAttempted: snap.IDsAttempted,
		ErrorsCount:  snap.ErrorsCount,
		StopReason:   snap.StopReason,
		MetadataFile: paths.Metadata,
		ErrorsFile:   paths.Errors,
		DataFile:     dataFile,
	}
}

// Attributes are attached to the published message for subscription filters.
func (r RunCompleted) Attributes() map[string]string {
	return map[string]string{
		"event_type":    EventRunCompleted,
		"run_id":        r.RunID,
		"stop_reason":   r.StopReason,
		"last_valid_id": strconv.Itoa(r.LastValidID),
	}
}
