package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart  Stage = "RUN_START"
	StageRunDone   Stage = "RUN_DONE"
	StageRunError  Stage = "RUN_ERROR"
	StageFetchDone Stage = "FETCH_DONE"
	StageBatchDone Stage = "BATCH_DONE"
)

// Event captures a single component of crawl progress.
type Event struct {
	// RunID identifies the run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	Stage Stage
	// RecordID is the database ID a fetch event refers to.
	RecordID int
	// Outcome is the per-ID outcome for fetch events.
	Outcome string
	// Bytes is the response size for fetch events.
	Bytes int64
	// Dur is the fetch latency, or run wall time for RUN_DONE/RUN_ERROR.
	Dur time.Duration
	// BatchStart and BatchEnd bound a BATCH_DONE event, end exclusive.
	BatchStart int
	BatchEnd   int
	// Found, NotFound and Streak summarize a batch.
	Found    int
	NotFound int
	Streak   int
	// Note carries low-volume context such as an error or stop reason.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StageFetchDone:
		if e.RecordID <= 0 {
			return errors.New("fetch done requires record id")
		}
		if e.Outcome == "" {
			return errors.New("fetch done requires outcome")
		}
	case StageBatchDone:
		if e.BatchEnd <= e.BatchStart {
			return errors.New("batch done requires a non-empty range")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ParseRunID parses a textual run ID into the Event form. Unparseable input
// yields the zero ID, which Validate rejects.
func ParseRunID(s string) [16]byte {
	id, err := uuid.Parse(s)
	if err != nil {
		return [16]byte{}
	}
	return UUIDToBytes(id)
}
