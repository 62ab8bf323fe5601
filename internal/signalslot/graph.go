// Package signalslot implements the decoupled many-to-many notification
// graph described as component C: objects connect to each other's signals,
// a slot invoked during dispatch never observes an already-destroyed
// receiver, and disconnects performed mid-dispatch are tombstoned rather
// than unlinked until the outermost dispatch on that emitter finishes.
//
// The graph is not safe for concurrent use from more than one goroutine at
// a time: it models the single-threaded cooperative scheduling of one
// reactor worker. Cross-worker
// communication must go through the reactor's event sources instead.
package signalslot

// ID identifies a node in the graph. The zero ID never names a real node.
type ID uint64

// Slot is invoked by Emit with the arguments passed to it.
type Slot func(args ...any)

type connection struct {
	hasReceiver bool
	receiver    ID
	signal      string
	slot        Slot
	tomb        bool
}

type node struct {
	id    ID
	out   []*connection
	in    map[ID]int // emitter ID -> connection count targeting this node
	depth int        // nested Emit calls currently iterating this node's out list
}

// Graph owns every node and is where Emit/Connect/Disconnect/Destroy live.
// An Object (below) is a thin handle into one Graph.
type Graph struct {
	nodes  map[ID]*node
	nextID ID
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{nodes: make(map[ID]*node)}
}

func (g *Graph) newNode() *node {
	g.nextID++
	n := &node{id: g.nextID, in: make(map[ID]int)}
	g.nodes[n.id] = n
	return n
}

// Connect records that, when emitter emits signal, slot is invoked. If
// receiver is non-zero, the connection is tracked in the receiver's incoming
// map so that destroying the receiver can find and tombstone it.
func (g *Graph) Connect(emitter ID, signal string, receiver ID, slot Slot) {
	en := g.nodes[emitter]
	if en == nil {
		return
	}
	c := &connection{signal: signal, slot: slot}
	if receiver != 0 {
		c.hasReceiver = true
		c.receiver = receiver
		if rn := g.nodes[receiver]; rn != nil {
			rn.in[emitter]++
		}
	}
	en.out = append(en.out, c)
}

// Disconnect removes connections matching emitter/signal/receiver. A zero
// receiver, or an empty signal, acts as a wildcard over that field, matching
// the "null arguments act as wildcards" convention for disconnects.
func (g *Graph) Disconnect(emitter ID, signal string, receiver ID) {
	en := g.nodes[emitter]
	if en == nil {
		return
	}
	for _, c := range en.out {
		if c.tomb {
			continue
		}
		if signal != "" && c.signal != signal {
			continue
		}
		if receiver != 0 && (!c.hasReceiver || c.receiver != receiver) {
			continue
		}
		c.tomb = true
		if c.hasReceiver {
			if rn := g.nodes[c.receiver]; rn != nil {
				rn.in[emitter]--
				if rn.in[emitter] <= 0 {
					delete(rn.in, emitter)
				}
			}
		}
	}
	if en.depth == 0 {
		g.sweep(en)
	}
}

// Emit invokes every slot connected to emitter under signal. Connect appends
// to the connection list and Emit walks it from the tail, so slots run in
// reverse registration order: the newest connection is invoked first.
// Recursive Emit calls (slot -> Emit) are permitted; the sweep of
// tombstoned entries happens only once the outermost call on this node
// returns.
func (g *Graph) Emit(emitter ID, signal string, args ...any) {
	en := g.nodes[emitter]
	if en == nil {
		return
	}
	en.depth++
	// Snapshot the length: connections added by a slot running during this
	// dispatch take effect on the next Emit, mirroring the reactor's
	// "handlers may register new sources, which take effect in the next
	// dispatch" contract.
	n := len(en.out)
	for i := n - 1; i >= 0; i-- {
		c := en.out[i]
		if c.tomb || c.signal != signal {
			continue
		}
		c.slot(args...)
	}
	en.depth--
	if en.depth == 0 {
		g.sweep(en)
	}
}

func (g *Graph) sweep(n *node) {
	if n.depth != 0 {
		return
	}
	kept := n.out[:0]
	for _, c := range n.out {
		if !c.tomb {
			kept = append(kept, c)
		}
	}
	n.out = kept
}

// Destroy removes every edge incident on id before the node is dropped from
// the graph, per I1/I2. It panics if id is currently dispatching a signal —
// destroying an object while it is dispatching is a programming
// error that must be caught rather than silently corrupting the graph;
// callers that might be mid-dispatch must route through a deferred deletion
// queue instead (see package reactor).
func (g *Graph) Destroy(id ID) {
	n := g.nodes[id]
	if n == nil {
		return
	}
	if n.depth > 0 {
		panic("signalslot: Destroy called on an object that is dispatching a signal")
	}
	for _, c := range n.out {
		if c.tomb || !c.hasReceiver {
			continue
		}
		if rn := g.nodes[c.receiver]; rn != nil {
			rn.in[id]--
			if rn.in[id] <= 0 {
				delete(rn.in, id)
			}
		}
	}
	for emitterID := range n.in {
		en := g.nodes[emitterID]
		if en == nil {
			continue
		}
		for _, c := range en.out {
			if c.hasReceiver && c.receiver == id {
				c.tomb = true
			}
		}
		if en.depth == 0 {
			g.sweep(en)
		}
	}
	delete(g.nodes, id)
}
