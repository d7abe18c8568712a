package types

// FetchKind tells the three possible results of a remote read apart
type FetchKind int

const (
	FetchOk FetchKind = iota
	FetchNotAvailable
	FetchFatal
)

func (k FetchKind) String() string {
	switch k {
	case FetchOk:
		return "ok"
	case FetchNotAvailable:
		return "not_available"
	case FetchFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Fetched is the result of reading something from a CI provider. A 404 is
// NotAvailable, never Fatal, so callers have to handle the two separately.
type Fetched[T any] struct {
	Kind  FetchKind
	Value T
	// Err is the cause for NotAvailable and Fatal results
	Err error
}

// Ok wraps a successfully fetched value
func Ok[T any](value T) Fetched[T] {
	return Fetched[T]{Kind: FetchOk, Value: value}
}

// NotAvailable reports that the resource does not exist or could not be read best-effort
func NotAvailable[T any](reason error) Fetched[T] {
	return Fetched[T]{Kind: FetchNotAvailable, Err: reason}
}

// Fatal reports an error the caller must act on
func Fatal[T any](err error) Fetched[T] {
	return Fetched[T]{Kind: FetchFatal, Err: err}
}

func (f Fetched[T]) IsOk() bool           { return f.Kind == FetchOk }
func (f Fetched[T]) IsNotAvailable() bool { return f.Kind == FetchNotAvailable }
func (f Fetched[T]) IsFatal() bool        { return f.Kind == FetchFatal }

// Get returns the value and whether it is present
func (f Fetched[T]) Get() (T, bool) {
	return f.Value, f.Kind == FetchOk
}

// OrElse returns the value, or fallback when none was fetched
func (f Fetched[T]) OrElse(fallback T) T {
	if f.Kind == FetchOk {
		return f.Value
	}
	return fallback
}
