package comm

import (
	"errors"
	"fmt"
	"sync"
)

// ErrGroupAborted is returned from collective calls after a member has
// aborted the group.
var ErrGroupAborted = errors.New("worker group aborted")

// shared holds the channel plumbing common to all members of an
// in-process group.
type shared struct {
	size    int
	bcast   []chan []byte
	gather  []chan []byte
	arrive  chan struct{}
	release []chan struct{}

	done      chan struct{}
	abortOnce sync.Once
}

// Group is an in-process Communicator. All members share channel plumbing
// created by NewGroup; each member is used by exactly one goroutine.
type Group struct {
	rank int
	sh   *shared
}

// NewGroup creates an in-process communicator group of the given size and
// returns one member per rank.
func NewGroup(size int) ([]*Group, error) {
	if size <= 0 {
		return nil, fmt.Errorf("group size must be positive, got %d", size)
	}
	sh := &shared{
		size:    size,
		bcast:   make([]chan []byte, size),
		gather:  make([]chan []byte, size),
		arrive:  make(chan struct{}, size),
		release: make([]chan struct{}, size),
		done:    make(chan struct{}),
	}
	for i := 0; i < size; i++ {
		sh.bcast[i] = make(chan []byte, 1)
		sh.gather[i] = make(chan []byte, 1)
		sh.release[i] = make(chan struct{}, 1)
	}

	members := make([]*Group, size)
	for i := 0; i < size; i++ {
		members[i] = &Group{rank: i, sh: sh}
	}
	return members, nil
}

// Rank returns this member's rank.
func (g *Group) Rank() int { return g.rank }

// Size returns the group size.
func (g *Group) Size() int { return g.sh.size }

// Abort permanently releases every member from current and future
// collective calls with ErrGroupAborted. A member that fails and leaves
// the group calls this so the survivors are not left blocked waiting for
// it.
func (g *Group) Abort() {
	g.sh.abortOnce.Do(func() { close(g.sh.done) })
}

// Broadcast distributes root's payload to every member.
func (g *Group) Broadcast(root int, data []byte) ([]byte, error) {
	if root < 0 || root >= g.sh.size {
		return nil, fmt.Errorf("broadcast root %d out of range [0,%d)", root, g.sh.size)
	}
	if g.rank == root {
		for r := 0; r < g.sh.size; r++ {
			if r == root {
				continue
			}
			cp := append([]byte(nil), data...)
			select {
			case g.sh.bcast[r] <- cp:
			case <-g.sh.done:
				return nil, ErrGroupAborted
			}
		}
		return data, nil
	}
	select {
	case b := <-g.sh.bcast[g.rank]:
		return b, nil
	case <-g.sh.done:
		return nil, ErrGroupAborted
	}
}

// Gather collects every member's payload at root.
func (g *Group) Gather(root int, data []byte) ([][]byte, error) {
	if root < 0 || root >= g.sh.size {
		return nil, fmt.Errorf("gather root %d out of range [0,%d)", root, g.sh.size)
	}
	if g.rank != root {
		select {
		case g.sh.gather[g.rank] <- append([]byte(nil), data...):
			return nil, nil
		case <-g.sh.done:
			return nil, ErrGroupAborted
		}
	}
	out := make([][]byte, g.sh.size)
	out[root] = data
	for r := 0; r < g.sh.size; r++ {
		if r == root {
			continue
		}
		select {
		case out[r] = <-g.sh.gather[r]:
		case <-g.sh.done:
			return nil, ErrGroupAborted
		}
	}
	return out, nil
}

// Barrier blocks until every member has entered it. Rank 0 counts
// arrivals and releases the group.
func (g *Group) Barrier() error {
	select {
	case g.sh.arrive <- struct{}{}:
	case <-g.sh.done:
		return ErrGroupAborted
	}
	if g.rank == 0 {
		for i := 0; i < g.sh.size; i++ {
			select {
			case <-g.sh.arrive:
			case <-g.sh.done:
				return ErrGroupAborted
			}
		}
		for r := 0; r < g.sh.size; r++ {
			select {
			case g.sh.release[r] <- struct{}{}:
			case <-g.sh.done:
				return ErrGroupAborted
			}
		}
	}
	select {
	case <-g.sh.release[g.rank]:
		return nil
	case <-g.sh.done:
		return ErrGroupAborted
	}
}
