package export

import "fmt"

// State is a phase of the export run.
type State int32

const (
	StateInit State = iota
	StateResuming
	StateStreaming
	StateFlushing
	StateOffloading
	StateCheckpointing
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateInit:          "INIT",
	StateResuming:      "RESUMING",
	StateStreaming:     "STREAMING",
	StateFlushing:      "FLUSHING",
	StateOffloading:    "OFFLOADING",
	StateCheckpointing: "CHECKPOINTING",
	StateDone:          "DONE",
	StateFailed:        "FAILED",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}
