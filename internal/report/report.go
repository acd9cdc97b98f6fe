// Package report parses and validates agent status reports: the
// per-cycle JSON documents agents deposit under <agent>/log/.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// OverallStatus is the agent's self-reported outcome for the whole cycle.
type OverallStatus string

const (
	OverallCompleted     OverallStatus = "completed"
	OverallFailedGlobal  OverallStatus = "failed_globally"
)

// Stage is one of BACKUP, COMPRESS, TRANSFER within a database entry.
type Stage struct {
	Status           bool   `json:"status"`
	StartTime        string `json:"start_time,omitempty"`
	EndTime          string `json:"end_time,omitempty"`
	SHA256Checksum   string `json:"sha256_checksum,omitempty"`
	Size             uint64 `json:"size,omitempty"`
	ErrorMessage     string `json:"error_message,omitempty"`
}

// Database is the per-database sub-document under "databases".
type Database struct {
	Backup         Stage  `json:"BACKUP"`
	Compress       Stage  `json:"COMPRESS"`
	Transfer       Stage  `json:"TRANSFER"`
	StagedFileName string `json:"staged_file_name"`
	LogsSummary    string `json:"logs_summary,omitempty"`
}

// raw mirrors the on-disk JSON shape before timestamp parsing. Databases
// is decoded as raw per-entry blobs rather than directly into Database so
// a stage's presence (as opposed to an explicit false) can be checked
// before the convenience struct is populated.
type raw struct {
	OperationStartTime string                     `json:"operation_start_time"`
	OperationEndTime   string                     `json:"operation_end_time"`
	OperationTimestamp string                     `json:"operation_timestamp"`
	AgentID            string                     `json:"agent_id"`
	OverallStatus      string                     `json:"overall_status"`
	Databases          map[string]json.RawMessage `json:"databases"`
}

// requiredStages are the three sub-mappings validation_service.py checks
// for on every database entry before accepting it.
var requiredStages = [...]string{"BACKUP", "COMPRESS", "TRANSFER"}

// Report is a parsed and structurally validated status document.
type Report struct {
	AgentID          string
	OperationStart   time.Time
	OperationEnd     time.Time
	OverallStatus    OverallStatus
	Databases        map[string]Database
	SourcePath       string
	HadNaiveTimestamp bool
}

// ErrorKind classifies a validation failure per spec.md §4.4.
type ErrorKind int

const (
	ErrNotFound ErrorKind = iota
	ErrMalformed
	ErrMissingField
	ErrInvalidValue
	ErrStale
	ErrIdentityMismatch
)

// ValidationError is returned by Load/Validate.
type ValidationError struct {
	Kind  ErrorKind
	Field string
	Path  string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("report %s: %s: %s", e.Path, e.kindString(), e.Field)
	}
	msg := e.kindString()
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return fmt.Sprintf("report %s: %s", e.Path, msg)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func (e *ValidationError) kindString() string {
	switch e.Kind {
	case ErrNotFound:
		return "not found"
	case ErrMalformed:
		return "malformed"
	case ErrMissingField:
		return "missing field"
	case ErrInvalidValue:
		return "invalid value"
	case ErrStale:
		return "stale"
	case ErrIdentityMismatch:
		return "identity mismatch"
	default:
		return "invalid"
	}
}

// Options configures Load's freshness and identity checks.
type Options struct {
	Now              time.Time
	MaxReportAge     time.Duration
	ExpectedAgentID  string // canonical name of the enclosing agent directory
}

// Load reads, parses and validates the report at path against opts.
// Rules are enforced in the order given by spec.md §4.4.
func Load(path string, opts Options) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ValidationError{Kind: ErrNotFound, Path: path, Err: err}
		}
		return nil, &ValidationError{Kind: ErrMalformed, Path: path, Err: err}
	}

	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, &ValidationError{Kind: ErrMalformed, Path: path, Err: err}
	}

	if r.AgentID == "" {
		return nil, &ValidationError{Kind: ErrMissingField, Field: "agent_id", Path: path}
	}
	if r.OverallStatus == "" {
		return nil, &ValidationError{Kind: ErrMissingField, Field: "overall_status", Path: path}
	}
	endRaw := r.OperationEndTime
	if endRaw == "" {
		endRaw = r.OperationTimestamp
	}
	if endRaw == "" {
		return nil, &ValidationError{Kind: ErrMissingField, Field: "operation_end_time", Path: path}
	}
	if r.OperationStartTime == "" {
		return nil, &ValidationError{Kind: ErrMissingField, Field: "operation_start_time", Path: path}
	}
	if len(r.Databases) == 0 {
		return nil, &ValidationError{Kind: ErrMissingField, Field: "databases", Path: path}
	}

	switch OverallStatus(r.OverallStatus) {
	case OverallCompleted, OverallFailedGlobal:
	default:
		return nil, &ValidationError{Kind: ErrInvalidValue, Field: "overall_status", Path: path}
	}

	start, startNaive, err := parseTimestamp(r.OperationStartTime)
	if err != nil {
		return nil, &ValidationError{Kind: ErrInvalidValue, Field: "operation_start_time", Path: path, Err: err}
	}
	end, endNaive, err := parseTimestamp(endRaw)
	if err != nil {
		return nil, &ValidationError{Kind: ErrInvalidValue, Field: "operation_end_time", Path: path, Err: err}
	}

	databases := make(map[string]Database, len(r.Databases))
	for name, rawDB := range r.Databases {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(rawDB, &fields); err != nil {
			return nil, &ValidationError{Kind: ErrMalformed, Field: "databases." + name, Path: path, Err: err}
		}

		for _, stage := range requiredStages {
			stageRaw, ok := fields[stage]
			if !ok {
				return nil, &ValidationError{Kind: ErrMissingField, Field: "databases." + name + "." + stage, Path: path}
			}
			var stageFields map[string]json.RawMessage
			if err := json.Unmarshal(stageRaw, &stageFields); err != nil {
				return nil, &ValidationError{Kind: ErrMalformed, Field: "databases." + name + "." + stage, Path: path, Err: err}
			}
			statusRaw, ok := stageFields["status"]
			if !ok {
				return nil, &ValidationError{Kind: ErrMissingField, Field: "databases." + name + "." + stage + ".status", Path: path}
			}
			var status bool
			if err := json.Unmarshal(statusRaw, &status); err != nil {
				return nil, &ValidationError{Kind: ErrInvalidValue, Field: "databases." + name + "." + stage + ".status", Path: path, Err: err}
			}
		}

		var db Database
		if err := json.Unmarshal(rawDB, &db); err != nil {
			return nil, &ValidationError{Kind: ErrMalformed, Field: "databases." + name, Path: path, Err: err}
		}
		if strings.TrimSpace(db.StagedFileName) == "" {
			return nil, &ValidationError{Kind: ErrMissingField, Field: "databases." + name + ".staged_file_name", Path: path}
		}
		if strings.Contains(db.StagedFileName, "/") || strings.Contains(db.StagedFileName, "..") {
			return nil, &ValidationError{Kind: ErrInvalidValue, Field: "databases." + name + ".staged_file_name", Path: path}
		}
		databases[name] = db
	}

	rep := &Report{
		AgentID:           r.AgentID,
		OperationStart:    start,
		OperationEnd:      end,
		OverallStatus:     OverallStatus(r.OverallStatus),
		Databases:         databases,
		SourcePath:        path,
		HadNaiveTimestamp: startNaive || endNaive,
	}

	if opts.MaxReportAge > 0 {
		age := opts.Now.Sub(rep.OperationEnd)
		if age > opts.MaxReportAge {
			return nil, &ValidationError{Kind: ErrStale, Path: path}
		}
	}

	if opts.ExpectedAgentID != "" && !strings.EqualFold(rep.AgentID, opts.ExpectedAgentID) {
		return nil, &ValidationError{Kind: ErrIdentityMismatch, Path: path,
			Err: fmt.Errorf("report agent_id %q != directory %q", rep.AgentID, opts.ExpectedAgentID)}
	}

	return rep, nil
}

// parseTimestamp parses an ISO-8601 timestamp. A value with no explicit
// UTC offset is tolerated and treated as UTC, with naive=true so the
// caller can log a warning (spec.md §4.4 rule 5).
func parseTimestamp(s string) (t time.Time, naive bool, err error) {
	if strings.HasSuffix(s, "Z") || strings.Contains(s, "+00:00") {
		t, err = time.Parse(time.RFC3339, s)
		return t, false, err
	}
	if t, err = time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), false, nil
	}
	// No offset at all: naive timestamp, assume UTC.
	const layout = "2006-01-02T15:04:05"
	t, err = time.Parse(layout, s)
	if err != nil {
		return time.Time{}, false, err
	}
	return t.UTC(), true, nil
}
