// Package snowflake produces the int64 message ids that serve as both
// the storage key and the history sort cursor: 41 bits of milliseconds
// since a fixed epoch, 10 bits of node id, 12 bits of per-millisecond
// sequence. Ids from one node are strictly increasing.
package snowflake

import (
	"fmt"
	"sync"
	"time"
)

const (
	nodeBits = 10
	seqBits  = 12

	maxNode = (1 << nodeBits) - 1
	maxSeq  = (1 << seqBits) - 1
)

// epoch anchors the timestamp bits; ids count milliseconds from here.
var epoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

type Node struct {
	mu      sync.Mutex
	node    int64
	elapsed int64 // ms since epoch of the last issued id
	seq     int64
}

func NewNode(node int64) (*Node, error) {
	if node < 0 || node > maxNode {
		return nil, fmt.Errorf("node id %d out of range [0, %d]", node, maxNode)
	}
	return &Node{node: node}, nil
}

func (n *Node) Generate() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := time.Since(epoch).Milliseconds()
	if now < n.elapsed {
		// clock went backwards; keep issuing from the last timestamp
		now = n.elapsed
	}

	if now == n.elapsed {
		n.seq++
		if n.seq > maxSeq {
			// sequence exhausted for this millisecond, spin to the next
			for now <= n.elapsed {
				now = time.Since(epoch).Milliseconds()
			}
			n.seq = 0
		}
	} else {
		n.seq = 0
	}
	n.elapsed = now

	return now<<(nodeBits+seqBits) | n.node<<seqBits | n.seq
}

// Time recovers the creation instant embedded in an id.
func Time(id int64) time.Time {
	ms := id >> (nodeBits + seqBits)
	return epoch.Add(time.Duration(ms) * time.Millisecond)
}
