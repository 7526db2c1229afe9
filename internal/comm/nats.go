package comm

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/vmihailenco/msgpack/v5"
)

// envelope is the wire framing for collective payloads.
type envelope struct {
	Rank int    `msgpack:"rank"`
	Data []byte `msgpack:"data"`
}

// NATSComm is a broker-backed Communicator for multi-process worker
// groups. Subjects are namespaced by a group prefix; payloads are msgpack
// envelopes carrying the sender rank. Collective calls block until all
// ranks participate; a missing participant hangs the group, which matches
// the engine's SPMD contract.
type NATSComm struct {
	nc     *nats.Conn
	ctx    context.Context
	prefix string
	rank   int
	size   int

	subBcast   *nats.Subscription
	subGather  *nats.Subscription
	subArrive  *nats.Subscription
	subRelease *nats.Subscription

	// out-of-round messages stashed per sender rank
	gatherPending map[int][][]byte
	arrivePending map[int]int
}

// NewNATSComm joins a worker group over an established NATS connection.
// The call blocks until all ranks of the group have joined.
func NewNATSComm(ctx context.Context, nc *nats.Conn, groupPrefix string, rank, size int) (*NATSComm, error) {
	if rank < 0 || rank >= size {
		return nil, fmt.Errorf("rank %d out of range [0,%d)", rank, size)
	}

	c := &NATSComm{
		nc:            nc,
		ctx:           ctx,
		prefix:        groupPrefix,
		rank:          rank,
		size:          size,
		gatherPending: make(map[int][][]byte),
		arrivePending: make(map[int]int),
	}

	var err error
	if c.subBcast, err = nc.SubscribeSync(c.subject("bcast", rank)); err != nil {
		return nil, fmt.Errorf("subscribing broadcast subject: %w", err)
	}
	if c.subGather, err = nc.SubscribeSync(c.subject("gather", rank)); err != nil {
		return nil, fmt.Errorf("subscribing gather subject: %w", err)
	}
	if rank == 0 {
		if c.subArrive, err = nc.SubscribeSync(c.prefix + ".arrive"); err != nil {
			return nil, fmt.Errorf("subscribing arrive subject: %w", err)
		}
	}
	if c.subRelease, err = nc.SubscribeSync(c.prefix + ".release"); err != nil {
		return nil, fmt.Errorf("subscribing release subject: %w", err)
	}

	if err := c.join(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *NATSComm) subject(op string, rank int) string {
	return fmt.Sprintf("%s.%s.%d", c.prefix, op, rank)
}

// join rendezvouses the group at startup: rank 0 collects a join message
// from every rank, then releases the group. Joins are re-published on a
// short interval so ranks that start before rank 0's subscription exists
// are not lost.
func (c *NATSComm) join() error {
	joined := make(map[int]bool)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	subJoin := c.subArrive // rank 0 reuses the arrive subscription for joins
	for {
		payload, err := msgpack.Marshal(&envelope{Rank: c.rank})
		if err != nil {
			return err
		}
		if err := c.nc.Publish(c.prefix+".arrive", payload); err != nil {
			return fmt.Errorf("publishing join: %w", err)
		}

		if c.rank == 0 {
			for len(joined) < c.size {
				msg, err := subJoin.NextMsg(200 * time.Millisecond)
				if err == nats.ErrTimeout {
					break
				}
				if err != nil {
					return fmt.Errorf("waiting for joins: %w", err)
				}
				var env envelope
				if err := msgpack.Unmarshal(msg.Data, &env); err != nil {
					return fmt.Errorf("malformed join message: %w", err)
				}
				joined[env.Rank] = true
			}
			if len(joined) == c.size {
				if err := c.nc.Publish(c.prefix+".release", []byte("go")); err != nil {
					return fmt.Errorf("publishing group release: %w", err)
				}
			}
		}

		if _, err := c.subRelease.NextMsg(50 * time.Millisecond); err == nil {
			if c.rank == 0 {
				// drain straggling join duplicates so they are not
				// mistaken for barrier arrivals later
				for {
					if _, derr := subJoin.NextMsg(200 * time.Millisecond); derr != nil {
						break
					}
				}
			}
			return nil
		}

		select {
		case <-c.ctx.Done():
			return c.ctx.Err()
		case <-ticker.C:
		}
	}
}

// Rank returns this worker's rank.
func (c *NATSComm) Rank() int { return c.rank }

// Size returns the group size.
func (c *NATSComm) Size() int { return c.size }

// Broadcast distributes root's payload to every rank.
func (c *NATSComm) Broadcast(root int, data []byte) ([]byte, error) {
	if root < 0 || root >= c.size {
		return nil, fmt.Errorf("broadcast root %d out of range [0,%d)", root, c.size)
	}
	if c.rank == root {
		payload, err := msgpack.Marshal(&envelope{Rank: c.rank, Data: data})
		if err != nil {
			return nil, err
		}
		for r := 0; r < c.size; r++ {
			if r == root {
				continue
			}
			if err := c.nc.Publish(c.subject("bcast", r), payload); err != nil {
				return nil, fmt.Errorf("broadcast to rank %d: %w", r, err)
			}
		}
		return data, nil
	}

	msg, err := c.subBcast.NextMsgWithContext(c.ctx)
	if err != nil {
		return nil, fmt.Errorf("broadcast receive: %w", err)
	}
	var env envelope
	if err := msgpack.Unmarshal(msg.Data, &env); err != nil {
		return nil, fmt.Errorf("malformed broadcast payload: %w", err)
	}
	return env.Data, nil
}

// Gather collects every rank's payload at root. Messages from ranks that
// have already advanced to a later collective round are stashed until
// their round comes up.
func (c *NATSComm) Gather(root int, data []byte) ([][]byte, error) {
	if root < 0 || root >= c.size {
		return nil, fmt.Errorf("gather root %d out of range [0,%d)", root, c.size)
	}
	if c.rank != root {
		payload, err := msgpack.Marshal(&envelope{Rank: c.rank, Data: data})
		if err != nil {
			return nil, err
		}
		if err := c.nc.Publish(c.subject("gather", root), payload); err != nil {
			return nil, fmt.Errorf("gather send: %w", err)
		}
		return nil, nil
	}

	out := make([][]byte, c.size)
	out[root] = data
	have := 1

	// drain stashed messages first
	for r, pend := range c.gatherPending {
		if len(pend) > 0 && out[r] == nil {
			out[r] = pend[0]
			c.gatherPending[r] = pend[1:]
			have++
		}
	}

	for have < c.size {
		msg, err := c.subGather.NextMsgWithContext(c.ctx)
		if err != nil {
			return nil, fmt.Errorf("gather receive: %w", err)
		}
		var env envelope
		if err := msgpack.Unmarshal(msg.Data, &env); err != nil {
			return nil, fmt.Errorf("malformed gather payload: %w", err)
		}
		if out[env.Rank] == nil {
			out[env.Rank] = env.Data
			have++
		} else {
			c.gatherPending[env.Rank] = append(c.gatherPending[env.Rank], env.Data)
		}
	}
	return out, nil
}

// Barrier blocks until every rank has entered it. Rank 0 counts arrivals
// and publishes a single release that all ranks wait on.
func (c *NATSComm) Barrier() error {
	payload, err := msgpack.Marshal(&envelope{Rank: c.rank})
	if err != nil {
		return err
	}
	if err := c.nc.Publish(c.prefix+".arrive", payload); err != nil {
		return fmt.Errorf("barrier arrive: %w", err)
	}

	if c.rank == 0 {
		seen := make(map[int]bool)
		// count stashed early arrivals from prior rounds
		for r, n := range c.arrivePending {
			if n > 0 && !seen[r] {
				seen[r] = true
				c.arrivePending[r] = n - 1
			}
		}
		for len(seen) < c.size {
			msg, err := c.subArrive.NextMsgWithContext(c.ctx)
			if err != nil {
				return fmt.Errorf("barrier collect: %w", err)
			}
			var env envelope
			if err := msgpack.Unmarshal(msg.Data, &env); err != nil {
				return fmt.Errorf("malformed barrier arrival: %w", err)
			}
			if seen[env.Rank] {
				c.arrivePending[env.Rank]++
			} else {
				seen[env.Rank] = true
			}
		}
		if err := c.nc.Publish(c.prefix+".release", []byte("release")); err != nil {
			return fmt.Errorf("barrier release: %w", err)
		}
	}

	if _, err := c.subRelease.NextMsgWithContext(c.ctx); err != nil {
		return fmt.Errorf("barrier wait: %w", err)
	}
	return nil
}
