package mqtt

import "sync"

type queuedMessage struct {
	topic   string
	payload []byte
}

// publishQueue is a bounded FIFO of retained messages awaiting reconnect.
// On overflow the oldest entry is dropped so memory stays bounded during
// extended broker outages.
type publishQueue struct {
	mu   sync.Mutex
	max  int
	msgs []queuedMessage
}

func newPublishQueue(max int) *publishQueue {
	if max <= 0 {
		max = 256
	}
	return &publishQueue{max: max}
}

// push appends a message, reporting whether the oldest entry was dropped to
// make room.
func (q *publishQueue) push(topic string, payload []byte) (dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.msgs) >= q.max {
		q.msgs = q.msgs[1:]
		dropped = true
	}
	q.msgs = append(q.msgs, queuedMessage{topic: topic, payload: payload})
	return dropped
}

// drain returns all queued messages and empties the queue.
func (q *publishQueue) drain() []queuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	msgs := q.msgs
	q.msgs = nil
	return msgs
}

func (q *publishQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.msgs)
}
