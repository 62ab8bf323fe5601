package signalslot

import "testing"

func TestConnectAndEmitInvokesSlot(t *testing.T) {
	g := NewGraph()
	emitter := NewObject(g)
	receiver := NewObject(g)

	var got []any
	emitter.Connect("ping", receiver, func(args ...any) { got = append(got, args...) })
	emitter.Emit("ping", "a", "b")

	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("slot received %v, want [a b]", got)
	}
}

func TestEmitNewestConnectionFiresFirst(t *testing.T) {
	g := NewGraph()
	emitter := NewObject(g)

	var order []int
	emitter.Connect("evt", nil, func(args ...any) { order = append(order, 1) })
	emitter.Connect("evt", nil, func(args ...any) { order = append(order, 2) })
	emitter.Connect("evt", nil, func(args ...any) { order = append(order, 3) })
	emitter.Emit("evt")

	want := []int{3, 2, 1}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestEmitIgnoresOtherSignals(t *testing.T) {
	g := NewGraph()
	emitter := NewObject(g)

	fired := false
	emitter.Connect("foo", nil, func(args ...any) { fired = true })
	emitter.Emit("bar")

	if fired {
		t.Fatalf("slot connected to 'foo' fired on Emit('bar')")
	}
}

func TestDisconnectMidDispatchIsTombstonedNotLost(t *testing.T) {
	g := NewGraph()
	emitter := NewObject(g)
	receiver := NewObject(g)

	calls := 0
	emitter.Connect("evt", receiver, func(args ...any) {
		calls++
		emitter.Disconnect("evt", receiver)
	})
	emitter.Emit("evt")
	emitter.Emit("evt")

	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (disconnect during dispatch should take effect on the next Emit)", calls)
	}
}

func TestDestroyRemovesIncomingConnections(t *testing.T) {
	g := NewGraph()
	emitter := NewObject(g)
	receiver := NewObject(g)

	calls := 0
	emitter.Connect("evt", receiver, func(args ...any) { calls++ })
	receiver.Destroy()
	emitter.Emit("evt")

	if calls != 0 {
		t.Fatalf("calls = %d, want 0 after the receiver was destroyed", calls)
	}
}

func TestDestroyWhileDispatchingPanics(t *testing.T) {
	g := NewGraph()
	emitter := NewObject(g)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected Destroy to panic while emitter is dispatching")
		}
	}()
	emitter.Connect("evt", nil, func(args ...any) { emitter.Destroy() })
	emitter.Emit("evt")
}

func TestDisconnectWildcardReceiver(t *testing.T) {
	g := NewGraph()
	emitter := NewObject(g)

	calls := 0
	emitter.Connect("evt", nil, func(args ...any) { calls++ })
	emitter.Connect("evt", nil, func(args ...any) { calls++ })
	emitter.Disconnect("evt", nil)
	emitter.Emit("evt")

	if calls != 0 {
		t.Fatalf("calls = %d, want 0 after wildcard disconnect", calls)
	}
}

func TestRecursiveEmitIsPermitted(t *testing.T) {
	g := NewGraph()
	emitter := NewObject(g)

	depth := 0
	var slot func(args ...any)
	slot = func(args ...any) {
		depth++
		if depth < 3 {
			emitter.Emit("evt")
		}
	}
	emitter.Connect("evt", nil, slot)
	emitter.Emit("evt")

	if depth != 3 {
		t.Fatalf("depth = %d, want 3", depth)
	}
}
