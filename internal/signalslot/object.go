package signalslot

// Object is a node handle bound to one Graph: the unit of identity described
// in the data model ("every long-lived entity in the core is an
// Object"). Embed it in any type that needs to emit or receive signals.
type Object struct {
	g  *Graph
	id ID
}

// NewObject creates a fresh node in g and returns a handle to it.
func NewObject(g *Graph) *Object {
	return &Object{g: g, id: g.newNode().id}
}

// ID returns the object's stable identifier, used by the deferred deletion
// queue to deduplicate scheduled destructions.
func (o *Object) ID() ID { return o.id }

// Connect wires up a slot on one of this object's signals. A nil receiver
// models the "context-less function pointer" case: the connection
// persists until explicitly disconnected or until this object is destroyed.
func (o *Object) Connect(signal string, receiver *Object, slot Slot) {
	var rid ID
	if receiver != nil {
		rid = receiver.id
	}
	o.g.Connect(o.id, signal, rid, slot)
}

// Disconnect removes matching connections; nil receiver or empty signal act
// as wildcards.
func (o *Object) Disconnect(signal string, receiver *Object) {
	var rid ID
	if receiver != nil {
		rid = receiver.id
	}
	o.g.Disconnect(o.id, signal, rid)
}

// Emit dispatches signal to every connected slot.
func (o *Object) Emit(signal string, args ...any) {
	o.g.Emit(o.id, signal, args...)
}

// Destroy removes every edge incident on this object, then drops it from the
// graph. Forbidden while the object is dispatching — see Graph.Destroy.
func (o *Object) Destroy() {
	o.g.Destroy(o.id)
}
