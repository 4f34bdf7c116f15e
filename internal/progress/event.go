// Package progress defines the event structures emitted by the ingestion
// pipeline and the embedding backfill workers.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind separates the two event streams sharing the hub.
type Kind string

// Supported run kinds.
const (
	KindIngest   Kind = "ingest"
	KindBackfill Kind = "backfill"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart   Stage = "RUN_START"
	StageRunDone    Stage = "RUN_DONE"
	StageRunError   Stage = "RUN_ERROR"
	StageRecordDone Stage = "RECORD_DONE"
	StageBatchDone  Stage = "BATCH_DONE"
)

// Outcome classifies what the pipeline did with one record.
type Outcome string

// Supported record outcomes.
const (
	OutcomeCreated  Outcome = "created"
	OutcomeUpdated  Outcome = "updated"
	OutcomeRejected Outcome = "rejected"
)

// Event captures a single milestone of an ingest or backfill run.
type Event struct {
	// RunID uniquely identifies a run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Kind tells ingest runs apart from backfill passes.
	Kind Kind
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// Store optionally scopes record events to a retail source label.
	Store string
	// Outcome classifies record completions.
	Outcome Outcome
	// Records carries the processed-item count for batch and run events.
	Records int64
	// Failed counts items within the batch that did not succeed.
	Failed int64
	// Dur captures execution latency for batch and run completions.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
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
	switch e.Kind {
	case KindIngest, KindBackfill:
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError, StageBatchDone:
	case StageRecordDone:
		switch e.Outcome {
		case OutcomeCreated, OutcomeUpdated, OutcomeRejected:
		default:
			return fmt.Errorf("record done requires a known outcome, got %q", e.Outcome)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Records < 0 || e.Failed < 0 {
		return errors.New("counts must be >= 0")
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
