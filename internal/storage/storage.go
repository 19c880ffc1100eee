// =============================================================================
// STABLE STORAGE
// =============================================================================
//
// An acceptor's promises are only worth something if they survive a crash.
// Suppose node A promises n=5 to proposer P1, crashes before writing that
// down, and restarts with promised=0. It can now accept n=3 from P2 and
// help choose a second value. So the acceptor writes first and replies
// second, and every Store here reports success only once the state is
// durable (or, for MemoryStore, once it is recorded).
//
// Implementations:
//
//   MemoryStore   process memory, for tests and the in-process demo
//   FileStore     append-only log of state snapshots, fsynced per Save
//
// Both satisfy paxos.Store.
//
// =============================================================================

package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/senutpal/synod/internal/paxos"
)

var (
	ErrCorrupt = errors.New("corrupt state record")
	ErrClosed  = errors.New("store closed")
)

var (
	_ paxos.Store = (*MemoryStore)(nil)
	_ paxos.Store = (*FileStore)(nil)
)

// NodeFile is the log file name of node id inside a data directory.
func NodeFile(dir string, id paxos.NodeID) string {
	return filepath.Join(dir, fmt.Sprintf("node-%d.wal", id))
}

// OpenNode opens the file store of node id, creating dir if needed.
func OpenNode(dir string, id paxos.NodeID) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return OpenFile(NodeFile(dir, id))
}
