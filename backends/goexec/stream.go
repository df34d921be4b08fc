// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package goexec

import (
	"sync"

	"github.com/gomlx/devicemem/backends"
	"github.com/gomlx/devicemem/pkg/support/xsync"
	"github.com/pkg/errors"
)

// stream is a FIFO queue of work served by one goroutine.
//
// The queue is unbounded, so Enqueue never blocks: a stream stalled on
// WaitForEvent keeps accepting work, like a real device stream would.
type stream struct {
	backend   *Backend
	deviceNum backends.DeviceNum

	// pending counts items enqueued and not yet executed; Sync waits on it.
	pending *xsync.DynamicWaitGroup

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []streamItem
	closed bool
}

// streamItem is one queued unit: either work or an event marker.
type streamItem struct {
	work  func()
	event *event
}

// Compile-time check that goexec.stream implements backends.Stream.
var _ backends.Stream = (*stream)(nil)

func newStream(backend *Backend, deviceNum backends.DeviceNum) *stream {
	s := &stream{
		backend:   backend,
		deviceNum: deviceNum,
		pending:   xsync.NewDynamicWaitGroup(),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.run()
	return s
}

// run serves the queue in FIFO order until the stream is closed and drained.
func (s *stream) run() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			// Closed and drained.
			s.mu.Unlock()
			return
		}
		item := s.queue[0]
		s.queue = s.queue[1:]
		closed := s.closed
		s.mu.Unlock()

		switch {
		case item.event != nil && closed:
			item.event.done.Trigger(errors.Errorf("event aborted: %q backend finalized", BackendName))
		case item.event != nil:
			item.event.done.Trigger(nil)
		case !closed:
			// After close, plain work is discarded.
			item.work()
		}
		s.pending.Done()
	}
}

// DeviceNum of the device this stream executes on.
func (s *stream) DeviceNum() backends.DeviceNum { return s.deviceNum }

// Enqueue schedules work to run on the stream, after everything already enqueued.
func (s *stream) Enqueue(work func()) error {
	if work == nil {
		return errors.Errorf("Enqueue given nil work")
	}
	return s.push(streamItem{work: work})
}

// RecordEvent enqueues an event marker and returns the event.
//
// The sequence number is taken while holding the stream lock, so numbers of
// events recorded on the same stream are ordered like the markers themselves.
func (s *stream) RecordEvent() (backends.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.Errorf("stream of finalized %q backend", BackendName)
	}
	ev := newEvent(s.backend.sequence.Add(1))
	s.pending.Add(1)
	s.queue = append(s.queue, streamItem{event: ev})
	s.cond.Signal()
	return ev, nil
}

// WaitForEvent stalls the stream until the event completes. Work enqueued
// after this call executes only after the event triggers.
func (s *stream) WaitForEvent(backendEvent backends.Event) error {
	ev, ok := backendEvent.(*event)
	if !ok {
		return errors.Errorf("event is not a %q backend event", BackendName)
	}
	if ev.done.Test() {
		// Already completed, nothing to wait for.
		return nil
	}
	return s.push(streamItem{work: func() { ev.done.Wait() }})
}

// Sync blocks the caller until everything enqueued so far has executed.
func (s *stream) Sync() error {
	s.pending.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.Errorf("stream of finalized %q backend", BackendName)
	}
	return nil
}

func (s *stream) push(item streamItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.Errorf("stream of finalized %q backend", BackendName)
	}
	s.pending.Add(1)
	s.queue = append(s.queue, item)
	s.cond.Signal()
	return nil
}

// close stops the stream: queued work is discarded, queued events complete
// with an error status, and new items are refused.
func (s *stream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.cond.Broadcast()
}
