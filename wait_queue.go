package rtsync

// waitQueue is the FIFO list of goroutines parked on a ThreadSync.
// Each waiter owns a one-slot channel; a wake-up is a send on it after
// the waiter left the list, so a waiter is woken at most once.
type waitQueue struct {
	mu   ticketLock
	head *queueWaiter
	tail *queueWaiter
	n    int
	// closed refuses new waiters once set.
	closed bool
}

type queueWaiter struct {
	next  *queueWaiter
	ready chan struct{}
	// woken is set, under mu, when the waiter is taken off the list by a
	// signaller; a timed-out waiter that finds it set owes the wake-up.
	woken bool
}

// enqueue appends a waiter, nil once the queue is closed.
func (q *waitQueue) enqueue() *queueWaiter {
	w := &queueWaiter{ready: make(chan struct{}, 1)}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	if q.tail == nil {
		q.head = w
	} else {
		q.tail.next = w
	}
	q.tail = w
	q.n++
	q.mu.Unlock()
	return w
}

// wakeOne releases the oldest waiter, if any.
func (q *waitQueue) wakeOne() bool {
	q.mu.Lock()
	w := q.head
	if w != nil {
		q.head = w.next
		if q.head == nil {
			q.tail = nil
		}
		q.n--
		w.next = nil
		w.woken = true
	}
	q.mu.Unlock()
	if w == nil {
		return false
	}
	w.ready <- struct{}{}
	return true
}

// wakeAll releases every waiter and returns how many there were.
func (q *waitQueue) wakeAll() int {
	return q.drain(false)
}

// close releases every waiter and refuses new ones.
func (q *waitQueue) close() int {
	return q.drain(true)
}

func (q *waitQueue) drain(closing bool) int {
	q.mu.Lock()
	if closing {
		q.closed = true
	}
	w := q.head
	n := q.n
	q.head, q.tail, q.n = nil, nil, 0
	for p := w; p != nil; p = p.next {
		p.woken = true
	}
	q.mu.Unlock()
	for w != nil {
		next := w.next
		w.next = nil
		w.ready <- struct{}{}
		w = next
	}
	return n
}

// cancel takes w off the list after its wait gave up. It returns false
// when a signaller got there first, in which case the wake-up stands.
func (q *waitQueue) cancel(w *queueWaiter) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if w.woken {
		return false
	}
	var prev *queueWaiter
	for p := q.head; p != nil; prev, p = p, p.next {
		if p != w {
			continue
		}
		if prev == nil {
			q.head = p.next
		} else {
			prev.next = p.next
		}
		if q.tail == p {
			q.tail = prev
		}
		q.n--
		p.next = nil
		return true
	}
	return true
}

func (q *waitQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}
