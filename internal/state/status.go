package state

import (
	"encoding/json"
	"fmt"
	"strings"

	"stackup/internal/check"
)

// Status is the observed lifecycle state of one service.
type Status uint8

const (
	StatusPending Status = iota + 1
	StatusStarting
	StatusReady
	StatusFailed
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusStarting:
		return "starting"
	case StatusReady:
		return "ready"
	case StatusFailed:
		return "failed"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusStarting, StatusReady, StatusFailed, StatusStopped:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is expected within a run.
func (s Status) Terminal() bool {
	return s == StatusStopped
}

// Transition returns the next status when the move is legal, otherwise the
// receiver. A service enters Starting only once all dependencies are Ready;
// Failed may re-enter Starting when the restart policy permits.
func (s Status) Transition(to Status) Status {
	ok := false
	switch s {
	case StatusPending:
		ok = to == StatusStarting || to == StatusFailed
	case StatusStarting:
		ok = to == StatusReady || to == StatusFailed || to == StatusStopped
	case StatusReady:
		ok = to == StatusStopped || to == StatusFailed
	case StatusFailed:
		ok = to == StatusStarting || to == StatusStopped
	case StatusStopped:
		ok = false
	}
	check.Assertf(ok, "service status transition: %s -> %s", s, to)
	if !ok {
		return s
	}
	return to
}

func (s Status) MarshalJSON() ([]byte, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("invalid service status: %d", s)
	}
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	next, ok := ParseStatus(raw)
	if !ok {
		return fmt.Errorf("invalid service status: %q", raw)
	}
	*s = next
	return nil
}

func ParseStatus(raw string) (Status, bool) {
	switch strings.TrimSpace(raw) {
	case "pending":
		return StatusPending, true
	case "starting":
		return StatusStarting, true
	case "ready":
		return StatusReady, true
	case "failed":
		return StatusFailed, true
	case "stopped":
		return StatusStopped, true
	default:
		return 0, false
	}
}
