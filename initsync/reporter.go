package initsync

import "fmt"

// Summary renders a status as the one-line progress indicator shown to operators.
func Summary(st Status) string {
	switch st.State {
	case Unstarted, Opening:
		return "not started"
	case Running, WaitingOnPeer:
		return fmt.Sprintf("in progress: %d of %d series synced", synced(st), st.PeerHighest)
	case Completed:
		return "finished"
	case Failed:
		return "failed: " + st.Reason
	case Stopped:
		return fmt.Sprintf("stopped: %d of %d series synced", synced(st), st.PeerHighest)
	default:
		return "unknown"
	}
}

func synced(st Status) uint64 {
	if st.Cursor <= 1 {
		return 0
	}
	x := uint64(st.Cursor - 1)
	if y := uint64(st.PeerHighest); x > y {
		return y
	}
	return x
}
