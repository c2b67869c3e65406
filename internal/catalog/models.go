package catalog

import (
	"fmt"
	"time"
)

// Outcome is how an insertion cycle ended.
type Outcome string

const (
	OutcomeCommitted      Outcome = "committed"
	OutcomeReadError      Outcome = "read_error"
	OutcomeWriteError     Outcome = "write_error"
	OutcomeMetadataFailed Outcome = "metadata_failed"
	OutcomeAbandoned      Outcome = "abandoned"
)

var validOutcomes = map[Outcome]struct{}{
	OutcomeCommitted:      {},
	OutcomeReadError:      {},
	OutcomeWriteError:     {},
	OutcomeMetadataFailed: {},
	OutcomeAbandoned:      {},
}

// ParseOutcome validates a stored outcome string.
func ParseOutcome(value string) (Outcome, error) {
	outcome := Outcome(value)
	if _, ok := validOutcomes[outcome]; !ok {
		return "", fmt.Errorf("unknown cycle outcome %q", value)
	}
	return outcome, nil
}

// Record is one finished insertion cycle.
type Record struct {
	ID           int64     `json:"id"`
	CycleID      string    `json:"cycle_id"`
	DevicePath   string    `json:"device_path"`
	VolumeLabel  string    `json:"volume_label,omitempty"`
	BlockSize    int64     `json:"block_size"`
	BlockCount   int64     `json:"block_count"`
	TotalBytes   int64     `json:"total_bytes"`
	Outcome      Outcome   `json:"outcome"`
	ImagePath    string    `json:"image_path,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Duration is the wall time from insertion to outcome.
func (r Record) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Summary counts records per outcome.
type Summary struct {
	Total     int             `json:"total"`
	ByOutcome map[Outcome]int `json:"by_outcome"`
	Bytes     int64           `json:"committed_bytes"`
}
