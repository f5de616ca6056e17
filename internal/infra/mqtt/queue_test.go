package mqtt

import (
	"fmt"
	"testing"
)

func TestQueuePushAndDrain(t *testing.T) {
	q := newPublishQueue(4)

	if dropped := q.push("a", []byte("1")); dropped {
		t.Error("push into empty queue reported a drop")
	}
	q.push("b", []byte("2"))

	msgs := q.drain()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].topic != "a" || msgs[1].topic != "b" {
		t.Errorf("drain lost FIFO order: %v", msgs)
	}
	if q.len() != 0 {
		t.Errorf("queue not empty after drain: %d", q.len())
	}
}

func TestQueueDropsOldestOnOverflow(t *testing.T) {
	q := newPublishQueue(3)

	for i := 0; i < 3; i++ {
		q.push(fmt.Sprintf("t%d", i), nil)
	}
	if dropped := q.push("t3", nil); !dropped {
		t.Error("overflow push did not report a drop")
	}

	msgs := q.drain()
	if len(msgs) != 3 {
		t.Fatalf("expected queue bounded at 3, got %d", len(msgs))
	}
	if msgs[0].topic != "t1" || msgs[2].topic != "t3" {
		t.Errorf("expected oldest dropped, got %v", msgs)
	}
}

func TestQueueDefaultCapacity(t *testing.T) {
	q := newPublishQueue(0)
	for i := 0; i < 256; i++ {
		if dropped := q.push("t", nil); dropped {
			t.Fatalf("dropped at %d with default capacity", i)
		}
	}
	if dropped := q.push("t", nil); !dropped {
		t.Error("expected drop past default capacity")
	}
}
