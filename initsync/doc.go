// Package initsync copies the series catalog of an existing pool member to a
// newly joined one.
//
// A Session pages through the peer's catalog in id order, applies every batch
// to the local catalog and records how far it got in a small progress file
// next to the database, so that a restarted node picks up where it left off.
// Sessions never block: the Scheduler calls Tick on a fixed interval, and the
// only work done outside of Tick is the network exchange itself.
package initsync
