package initsync

import (
	"time"

	"github.com/alpacahq/seriesdb/catalog"
)

type State int32

const (
	Unstarted State = iota
	Opening
	Running
	WaitingOnPeer
	Completed
	Failed
	Stopped
)

func (s State) String() string {
	switch s {
	case Unstarted:
		return "unstarted"
	case Opening:
		return "opening"
	case Running:
		return "running"
	case WaitingOnPeer:
		return "waiting_on_peer"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Terminal reports whether a session in state s will never tick again.
func (s State) Terminal() bool {
	return s == Completed || s == Failed || s == Stopped
}

// Status is a point-in-time view of a session.
type Status struct {
	Database    string           `json:"database"`
	SessionID   string           `json:"session_id,omitempty"`
	State       State            `json:"-"`
	StateName   string           `json:"state"`
	Cursor      catalog.SeriesID `json:"cursor"`
	PeerHighest catalog.SeriesID `json:"peer_highest"`
	Synced      uint64           `json:"synced"`
	Bytes       uint64           `json:"consumed_bytes"`
	Reason      string           `json:"reason,omitempty"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Mode tells a session how to obtain its progress store.
type Mode struct {
	resume     bool
	checkpoint *Checkpoint
}

// Fresh starts over from the first series id, replacing any previous progress.
func Fresh() Mode {
	return Mode{}
}

// Resume continues from the progress proven by cp.
func Resume(cp *Checkpoint) Mode {
	return Mode{resume: true, checkpoint: cp}
}

func (m Mode) IsResume() bool {
	return m.resume
}

func (m Mode) String() string {
	if m.IsResume() {
		return "resume"
	}
	return "fresh"
}
