package kernel

// Status is the closed set of results returned by the core primitives.
//
// Every failing Status is also an error, so callers can compare with
// errors.Is after the value has been wrapped.
type Status uint8

const (
	StatusOK Status = iota
	StatusTimeout
	StatusQueueFull
	StatusKeyNotFound
	StatusKeyExists
	StatusEventFlagDeleted
	StatusMissingSignal
	StatusOutOfMemory
	StatusInvalidArgument
	StatusDestroyed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusTimeout:
		return "timeout"
	case StatusQueueFull:
		return "queue full"
	case StatusKeyNotFound:
		return "utiltask key not found"
	case StatusKeyExists:
		return "utiltask key already registered"
	case StatusEventFlagDeleted:
		return "event flag group deleted"
	case StatusMissingSignal:
		return "sysevent missing signal"
	case StatusOutOfMemory:
		return "out of memory"
	case StatusInvalidArgument:
		return "invalid argument"
	case StatusDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

func (s Status) Error() string { return s.String() }

// Err returns nil for StatusOK and s otherwise.
func (s Status) Err() error {
	if s == StatusOK {
		return nil
	}
	return s
}
