package backends

// Memory is an opaque region of device memory, held and shared by the
// devicebuf package. The backend that allocated it is the only one that can
// interpret it.
type Memory interface {
	// SizeInBytes of the region.
	SizeInBytes() uintptr
}

// Allocator allocates and frees device memory regions for one device.
type Allocator interface {
	// Allocate a region of the given size on the device.
	Allocate(sizeInBytes uintptr) (Memory, error)

	// Deallocate a region previously returned by Allocate.
	//
	// Deallocating twice, or deallocating a region of another allocator, is
	// an error.
	Deallocate(memory Memory) error
}

// EventStatus is the result of polling an Event.
type EventStatus int

const (
	// EventPending: the stream has not yet executed past the event marker.
	EventPending EventStatus = iota

	// EventComplete: the stream executed past the event marker.
	EventComplete

	// EventError: the stream reached the marker in an error state.
	EventError
)

// String implements fmt.Stringer.
func (s EventStatus) String() string {
	switch s {
	case EventPending:
		return "Pending"
	case EventComplete:
		return "Complete"
	case EventError:
		return "Error"
	default:
		return "InvalidEventStatus"
	}
}

// Event is a marker recorded on a stream: it completes when the recording
// stream executes past the point where it was recorded.
type Event interface {
	// SequenceNumber of the event: recording a new event on any stream of a
	// backend yields a number strictly larger than all previously recorded
	// ones on that backend. Numbers from different backend instances are not
	// comparable.
	SequenceNumber() uint64

	// PollStatus returns the current status of the event, without blocking.
	PollStatus() EventStatus
}

// Stream is a FIFO queue of device work. Work enqueued on a stream executes
// in order; work on different streams has no ordering, except the one imposed
// by WaitForEvent.
type Stream interface {
	// DeviceNum of the device this stream executes on.
	DeviceNum() DeviceNum

	// Enqueue schedules work to run on the stream, after everything already
	// enqueued. It returns as soon as the work is queued.
	Enqueue(work func()) error

	// RecordEvent enqueues an event marker and returns the event, already
	// tagged with its sequence number. The event completes when the stream
	// executes past the marker.
	RecordEvent() (Event, error)

	// WaitForEvent makes the work enqueued after this call wait until the
	// event completes. Waiting on an already completed event is a no-op.
	WaitForEvent(event Event) error

	// Sync blocks the caller until everything enqueued so far has executed.
	Sync() error
}

// Device is one accelerator of a Backend: an allocator plus its execution
// streams.
//
// The three dedicated streams are the conventional homes for computation,
// host-to-device and device-to-host traffic. NewStream creates extra streams
// for callers that need their own ordering domain.
type Device interface {
	// Num of this device within its backend.
	Num() DeviceNum

	// Allocator for this device's memory.
	Allocator() Allocator

	// ComputeStream is the stream where computations are enqueued.
	ComputeStream() Stream

	// HostToDeviceStream is the stream where host-to-device transfers are enqueued.
	HostToDeviceStream() Stream

	// DeviceToHostStream is the stream where device-to-host transfers are enqueued.
	DeviceToHostStream() Stream

	// NewStream creates a dedicated stream on this device.
	NewStream() (Stream, error)
}
