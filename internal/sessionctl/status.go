package sessionctl

import "fmt"

// StatusKind is the user-visible health of a session (spec.md §7).
type StatusKind int

const (
	StatusOK StatusKind = iota
	StatusDegraded
	StatusAborted
)

func (k StatusKind) String() string {
	switch k {
	case StatusOK:
		return "OK"
	case StatusDegraded:
		return "DEGRADED"
	case StatusAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// Status is the sum type spec.md §7 describes as `OK | DEGRADED(loss_bytes,
// loss_records) | ABORTED(reason)`, exposed in every metadata record.
type Status struct {
	Kind        StatusKind
	LossBytes   int64
	LossRecords uint64
	Reason      string // meaningful only when Kind == StatusAborted
}

func (s Status) String() string {
	switch s.Kind {
	case StatusDegraded:
		return fmt.Sprintf("DEGRADED(loss_bytes=%d, loss_records=%d)", s.LossBytes, s.LossRecords)
	case StatusAborted:
		return fmt.Sprintf("ABORTED(%s)", s.Reason)
	default:
		return s.Kind.String()
	}
}

// Degrade folds in loss counters and, if the session was OK, moves it to
// DEGRADED. An already-ABORTED session is left untouched: abort is terminal.
func (s *Status) Degrade(lossBytes int64, lossRecords uint64) {
	if s.Kind == StatusAborted {
		return
	}
	s.Kind = StatusDegraded
	s.LossBytes += lossBytes
	s.LossRecords += lossRecords
}

// Abort moves the session to ABORTED with the given reason. Terminal: once
// aborted, further Degrade calls are no-ops.
func (s *Status) Abort(reason string) {
	s.Kind = StatusAborted
	s.Reason = reason
}
