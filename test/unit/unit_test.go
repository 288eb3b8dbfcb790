// Package unit covers cross-package boundary behavior that doesn't fit
// neatly under a single internal package's own tests: kernel-level
// handling of a standalone Dispatcher (no simulated hardware attached)
// and the release-net-buffer no-op contract.
package unit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vqkernel/vqkernel"
	"github.com/vqkernel/vqkernel/internal/platform"
)

// TestReleaseNetBufferOutOfRangeIsNoOp exercises the kernel-level half
// of the contract directly: release_net_buffer with an out-of-range
// index must not panic and must not reach the platform.
func TestReleaseNetBufferOutOfRangeIsNoOp(t *testing.T) {
	k := vqkernel.NewKernel(nil)

	ring := make([]vqkernel.RecvBuffer, 2)
	var req vqkernel.NetRecvRequest
	vqkernel.InitNetRecv(&req, ring, nil, func(*vqkernel.Work) {}, 0)

	assert.NotPanics(t, func() {
		k.ReleaseNetBuffer(&req, -1)
		k.ReleaseNetBuffer(&req, len(ring))
		k.ReleaseNetBuffer(nil, 0)
	})
}

// TestBareDispatcherSatisfiesPlatform confirms a Dispatcher with no
// concrete platform wired in still provides harmless stand-ins for
// WaitForInterrupt and Abort, which is what makes it usable on its own
// in dispatch-only tests elsewhere in the suite.
func TestBareDispatcherSatisfiesPlatform(t *testing.T) {
	var d platform.Dispatcher
	assert.Implements(t, (*vqkernel.Platform)(nil), &d)
	// WaitForInterrupt/Abort are the trivial stand-ins a bare Dispatcher
	// provides when no concrete platform is wired in.
	require.Equal(t, int64(0), d.WaitForInterrupt(50))
	assert.NotPanics(t, d.Abort)
}
