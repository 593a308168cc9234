package gai

import (
	"context"
	"errors"
	"math"
	"time"
)

// GetaddrinfoWithTimeout is the integer-coded form of Lookup.
//
// It returns CodeOK and stores the result in *res (the caller must Release
// it), the primitive's own code on resolver failure, or one of the Code*
// constants. *isTimeout, when non-nil, is cleared on entry and set only
// when the wait expired. *res is written only on success and only by this
// call, never by the worker. A zero timeout does not fall back to the
// default: the call waits no longer than it takes to observe an outcome
// that is already there.
func (r *Resolver) GetaddrinfoWithTimeout(node, service string, hints *Hints, res **Result, isTimeout *bool, timeoutMsec uint64) int {
	if isTimeout != nil {
		*isTimeout = false
	}
	timeout := time.Duration(math.MaxInt64)
	if timeoutMsec < uint64(math.MaxInt64/int64(time.Millisecond)) {
		timeout = time.Duration(timeoutMsec) * time.Millisecond
	}

	want := params{node: node, service: service, hints: hints, slot: res}
	result, err := r.lookup(context.Background(), want, timeout)
	if err != nil {
		if isTimeout != nil && errors.Is(err, ErrTimeout) {
			*isTimeout = true
		}
		return Code(err)
	}

	if res != nil {
		*res = result
	} else {
		result.Release()
	}
	return CodeOK
}
