package gai

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetaddrinfoWithTimeoutSuccess(t *testing.T) {
	p := newGatedPrimitive()
	p.gate = nil
	r := newTestResolver(t, p, Options{})

	var res *Result
	isTimeout := false
	code := r.GetaddrinfoWithTimeout("ok.example", "http", &Hints{Family: AFInet}, &res, &isTimeout, 1000)

	require.Equal(t, CodeOK, code)
	assert.False(t, isTimeout)
	require.NotNil(t, res)
	assert.Equal(t, []AddrInfo{{
		Family:   AFInet,
		SockType: SockStream,
		Protocol: ProtoTCP,
		Addr:     res.Addrs[0].Addr,
	}}, res.Addrs)
	assert.Equal(t, addrFor("ok.example"), res.Addrs[0].Addr.Addr())
	res.Release()
}

func TestGetaddrinfoWithTimeoutTimesOut(t *testing.T) {
	p := newGatedPrimitive()
	p.delay = 200 * time.Millisecond
	r := newTestResolver(t, p, Options{})

	sentinel := NewResult(nil, nil)
	res := sentinel
	isTimeout := false
	code := r.GetaddrinfoWithTimeout("slow.example", "", nil, &res, &isTimeout, 50)

	assert.Equal(t, CodeTimeout, code)
	assert.True(t, isTimeout)
	assert.Same(t, sentinel, res, "slot must not be written on timeout")

	// The late success must neither land in the slot nor leak.
	require.Eventually(t, func() bool { return p.released.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Same(t, sentinel, res)
	assert.Equal(t, uint64(1), r.Stats().Late)
}

func TestGetaddrinfoWithTimeoutResolverFailure(t *testing.T) {
	p := newGatedPrimitive()
	p.gate = nil
	p.fail["missing.example"] = NewResolverError(EAINoName, "missing.example", nil)
	r := newTestResolver(t, p, Options{})

	var res *Result
	isTimeout := false
	code := r.GetaddrinfoWithTimeout("missing.example", "", nil, &res, &isTimeout, 1000)

	assert.Equal(t, EAINoName, code)
	assert.False(t, isTimeout)
	assert.Nil(t, res)
}

func TestGetaddrinfoWithTimeoutNilOutputs(t *testing.T) {
	p := newGatedPrimitive()
	p.gate = nil
	r := newTestResolver(t, p, Options{})

	code := r.GetaddrinfoWithTimeout("ok.example", "", nil, nil, nil, 1000)
	assert.Equal(t, CodeOK, code)
	assert.Equal(t, int32(1), p.released.Load(), "result without a slot must be released")
}

func TestGetaddrinfoWithTimeoutZeroTimeout(t *testing.T) {
	p := newGatedPrimitive()
	t.Cleanup(p.open)
	r := newTestResolver(t, p, Options{DefaultTimeout: time.Hour})

	var res *Result
	isTimeout := false
	start := time.Now()
	code := r.GetaddrinfoWithTimeout("blocked.example", "", nil, &res, &isTimeout, 0)

	assert.Equal(t, CodeTimeout, code)
	assert.True(t, isTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestGetaddrinfoWithTimeoutHugeTimeout(t *testing.T) {
	p := newGatedPrimitive()
	p.gate = nil
	r := newTestResolver(t, p, Options{})

	var res *Result
	code := r.GetaddrinfoWithTimeout("ok.example", "", nil, &res, nil, math.MaxUint64)
	assert.Equal(t, CodeOK, code)
	res.Release()
}

func TestGetaddrinfoWithTimeoutStartFailure(t *testing.T) {
	r := newTestResolver(t, newGatedPrimitive(), Options{})
	require.NoError(t, r.Close())

	var res *Result
	isTimeout := false
	code := r.GetaddrinfoWithTimeout("x", "", nil, &res, &isTimeout, 1000)
	assert.Equal(t, CodeStartFailed, code)
	assert.False(t, isTimeout)
	assert.Equal(t, 0, r.Stats().InFlight)
}

func TestGetaddrinfoWithTimeoutClearsStaleTimeoutFlag(t *testing.T) {
	p := newGatedPrimitive()
	p.gate = nil
	p.fail["missing.example"] = NewResolverError(EAINoName, "missing.example", nil)
	r := newTestResolver(t, p, Options{})

	var res *Result
	isTimeout := true
	code := r.GetaddrinfoWithTimeout("ok.example", "", nil, &res, &isTimeout, 1000)
	require.Equal(t, CodeOK, code)
	assert.False(t, isTimeout, "success must clear the flag")
	res.Release()

	res = nil
	isTimeout = true
	code = r.GetaddrinfoWithTimeout("missing.example", "", nil, &res, &isTimeout, 1000)
	assert.Equal(t, EAINoName, code)
	assert.False(t, isTimeout, "resolver failure must clear the flag")
	assert.Nil(t, res)
}
