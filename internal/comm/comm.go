// Package comm provides the collective-communication layer beneath the
// hyperslab I/O engine. Workers run the same control flow in lockstep;
// every rank must enter each collective call in the same order, and a call
// blocks until all ranks have entered it. Two implementations are
// provided: an in-process Group for tests and single-host runs, and a
// broker-backed communicator over NATS for multi-process runs.
package comm

// Communicator is the collective-communication surface the I/O engine
// depends on. Rank numbering is dense in [0, Size).
type Communicator interface {
	// Rank returns this worker's rank.
	Rank() int

	// Size returns the number of workers in the group.
	Size() int

	// Broadcast distributes root's payload to every rank. All ranks
	// receive the payload, including root.
	Broadcast(root int, data []byte) ([]byte, error)

	// Gather collects every rank's payload at root, indexed by rank.
	// Non-root ranks receive nil.
	Gather(root int, data []byte) ([][]byte, error)

	// Barrier blocks until every rank has entered it.
	Barrier() error
}
