/*
Package replication carries the initial sync of the series catalog between pool members.

When a node joins a pool holding data, it copies every series definition of its peer before it
serves as a full replica. Two roles are involved:

- Initial sync server
	Runs on every node. It answers FetchSeries requests with a batch of its catalog, in id order,
	starting at the cursor given by the requester. Requests are rate limited so that a syncing
	replica cannot starve the node of its normal traffic.

- Initial sync client
	Runs on a node with a configured peer. It carries the opaque requests of an initsync.Session
	to the peer and hands the answers back. gRPC status codes tell transient failures
	(the session retries on its next tick) from rejected requests (the session fails).
*/
package replication
