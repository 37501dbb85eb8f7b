package wire

import (
	"golang.org/x/sys/unix"
)

// FDQueue is an ordered queue of received or pending file descriptors.
//
// On the receive side one queue is shared by every message read from a
// socket: the number of descriptors a message owns is only known once its
// arguments are decoded against the interface signature.
type FDQueue struct {
	fds []int
}

// NewFDQueue returns a queue holding fds in order.
func NewFDQueue(fds ...int) *FDQueue {
	return &FDQueue{fds: append([]int(nil), fds...)}
}

// Push appends fds to the tail of the queue.
func (q *FDQueue) Push(fds ...int) {
	q.fds = append(q.fds, fds...)
}

// Pop removes and returns the descriptor at the head of the queue. The
// caller owns the returned descriptor.
func (q *FDQueue) Pop() (int, error) {
	if q == nil || len(q.fds) == 0 {
		return -1, malformed("file descriptor expected but none received")
	}
	fd := q.fds[0]
	q.fds = q.fds[1:]
	if len(q.fds) == 0 {
		q.fds = nil
	}
	return fd, nil
}

// Len returns the number of queued descriptors.
func (q *FDQueue) Len() int {
	if q == nil {
		return 0
	}
	return len(q.fds)
}

// Drain closes and discards the first n queued descriptors.
func (q *FDQueue) Drain(n int) {
	for i := 0; i < n; i++ {
		fd, err := q.Pop()
		if err != nil {
			return
		}
		_ = unix.Close(fd)
	}
}

// Close closes every queued descriptor.
func (q *FDQueue) Close() error {
	if q == nil {
		return nil
	}
	var first error
	for _, fd := range q.fds {
		if err := unix.Close(fd); err != nil && first == nil {
			first = err
		}
	}
	q.fds = nil
	return first
}

// CloseFDs closes descriptors a handler will not receive.
func CloseFDs(fds ...int) {
	for _, fd := range fds {
		_ = unix.Close(fd)
	}
}

func (q *FDQueue) take() []int {
	fds := q.fds
	q.fds = nil
	return fds
}
