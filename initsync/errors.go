package initsync

import "errors"

var (
	// ErrExchangeTimeout is returned when the peer did not answer before the exchange deadline.
	// The exchange is retried on a later tick.
	ErrExchangeTimeout = errors.New("initsync: exchange timed out")
	// ErrProtocolViolation is returned for a peer response that breaks the exchange contract.
	ErrProtocolViolation = errors.New("initsync: protocol violation")
	// ErrDurability is returned when progress could not be made durable.
	ErrDurability = errors.New("initsync: progress not durable")
	// ErrCorruptProgress is returned for a progress file that fails validation.
	ErrCorruptProgress = errors.New("initsync: corrupt progress file")
	// ErrNoCheckpoint is returned when a resume was requested but no progress file exists.
	ErrNoCheckpoint = errors.New("initsync: no progress file to resume from")
	// ErrStoreLocked is returned when another session owns the progress file.
	ErrStoreLocked = errors.New("initsync: progress file is locked by another session")
	// ErrAlreadyRunning is returned when a session is already live for the database.
	ErrAlreadyRunning = errors.New("initsync: session already running")
	// ErrUnknownDatabase is returned for a database that is not configured on this node.
	ErrUnknownDatabase = errors.New("initsync: unknown database")
)

var (
	// ErrNotRunning is returned when stopping a database that has no live session.
	ErrNotRunning = errors.New("initsync: no session running")
	// ErrPeerRejected is returned by a Peer when the peer refused the request for good.
	// Unlike other exchange errors it fails the session.
	ErrPeerRejected = errors.New("initsync: peer rejected the request")
	// ErrNoPeer is returned when a sync is requested on a node without a configured peer.
	ErrNoPeer = errors.New("initsync: no peer configured")
)
