package sim

import "testing"

func commandFrom(client string) Command {
	return Command{ClientID: client, Type: CommandSetMode, SetMode: &SetModeCommand{Mode: "manual"}}
}

func TestCommandBufferDrainPreservesOrder(t *testing.T) {
	buffer := NewCommandBuffer(4, nil)
	for _, client := range []string{"a", "b", "c"} {
		if !buffer.Push(commandFrom(client)) {
			t.Fatalf("push for %q failed", client)
		}
	}

	drained := buffer.Drain()
	if len(drained) != 3 {
		t.Fatalf("expected 3 commands, got %d", len(drained))
	}
	for i, want := range []string{"a", "b", "c"} {
		if drained[i].ClientID != want {
			t.Fatalf("command %d: expected client %q, got %q", i, want, drained[i].ClientID)
		}
	}
	if buffer.Len() != 0 {
		t.Fatalf("expected empty buffer after drain, got %d", buffer.Len())
	}
}

func TestCommandBufferWraparound(t *testing.T) {
	buffer := NewCommandBuffer(2, nil)
	buffer.Push(commandFrom("a"))
	buffer.Push(commandFrom("b"))
	buffer.Drain()

	buffer.Push(commandFrom("c"))
	buffer.Push(commandFrom("d"))

	drained := buffer.Drain()
	if len(drained) != 2 {
		t.Fatalf("expected 2 commands, got %d", len(drained))
	}
	if drained[0].ClientID != "c" || drained[1].ClientID != "d" {
		t.Fatalf("unexpected order after wraparound: %q, %q", drained[0].ClientID, drained[1].ClientID)
	}
}

func TestCommandBufferRejectsWhenFull(t *testing.T) {
	buffer := NewCommandBuffer(1, nil)
	if !buffer.Push(commandFrom("a")) {
		t.Fatal("first push should succeed")
	}
	if buffer.Push(commandFrom("b")) {
		t.Fatal("push into full buffer should fail")
	}

	drained := buffer.Drain()
	if len(drained) != 1 || drained[0].ClientID != "a" {
		t.Fatalf("overflow must not displace staged commands: %+v", drained)
	}
}

func TestCommandBufferDrainEmptyReturnsNil(t *testing.T) {
	buffer := NewCommandBuffer(4, nil)
	if drained := buffer.Drain(); drained != nil {
		t.Fatalf("expected nil from empty drain, got %+v", drained)
	}
}
