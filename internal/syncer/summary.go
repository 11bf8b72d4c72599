package syncer

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSyncInProgress is returned when a pass is requested while another is running.
	ErrSyncInProgress = errors.New("sync already in progress")
	// ErrIndexCorrupt is returned by RestoreIndex when the stored index cannot be trusted.
	ErrIndexCorrupt = errors.New("stored index is corrupt")
)

// State is the synchronizer's position in a pass.
type State int32

const (
	StateIdle State = iota
	StateDiffing
	StateEmbedding
	StatePersisting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDiffing:
		return "diffing"
	case StateEmbedding:
		return "embedding"
	case StatePersisting:
		return "persisting"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// DocError is a failure isolated to one note.
type DocError struct {
	ID  string `json:"path"`
	Err error  `json:"-"`
}

func (e DocError) Error() string { return e.ID + ": " + e.Err.Error() }

func (e DocError) Unwrap() error { return e.Err }

// Summary reports one pass.
type Summary struct {
	RunID     string `json:"run_id"`
	Full      bool   `json:"full"`
	Added     int    `json:"added"`
	Updated   int    `json:"updated"`
	Removed   int    `json:"removed"`
	Unchanged int    `json:"unchanged"`
	// Skipped counts notes stored without a vector because their gist is empty.
	Skipped  int           `json:"skipped,omitempty"`
	Failed   []DocError    `json:"failed,omitempty"`
	Duration time.Duration `json:"duration"`
	Finished time.Time     `json:"finished"`
}

// Changed reports whether the pass mutated the index or records.
func (s *Summary) Changed() bool {
	return s.Added+s.Updated+s.Removed > 0
}
