// Package dis implements the Data-is-Strings wire codec: a self-describing,
// length-prefixed ASCII encoding for unsigned/signed integers, counted
// strings, and floating point numbers.
//
// Every primitive is read from a [Stream] and written to a [Writer]. A
// Stream wraps a byte source with commit/rewind semantics: a failed read leaves the stream
// positioned where it was before the call, so a caller can retry with an
// alternate decoding.
package dis

import (
	"errors"
	"math"
)

// Status is the outcome of a DIS read or write.
type Status int

const (
	Success Status = iota
	Protocol
	EOD
	Overflow
	NoCommit
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case Protocol:
		return "protocol"
	case EOD:
		return "eod"
	case Overflow:
		return "overflow"
	case NoCommit:
		return "nocommit"
	default:
		return "unknown"
	}
}

// Error wraps a non-success [Status] so it satisfies the error interface.
type Error struct {
	Status Status
}

func (e *Error) Error() string {
	return "dis: " + e.Status.String()
}

func statusErr(s Status) error {
	if s == Success {
		return nil
	}
	return &Error{Status: s}
}

// AsStatus extracts the [Status] from err, if any. It returns [Success] for a
// nil error and [Protocol] for any error not produced by this package.
func AsStatus(err error) Status {
	if err == nil {
		return Success
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Status
	}
	return Protocol
}

// HUGE is the clamp value used for floating point overflow, mirroring the C
// library's HUGE_VAL (positive infinity).
var HUGE = math.Inf(1)

// decimal exponent limits used by the floating point overflow policy,
// mirroring DBL_MAX_10_EXP/DBL_MIN_10_EXP from the reference decoder.
const (
	maxDecExp = 308 // float64 MAX_10_EXP
	minDecExp = -307
)
