// Package vqkernel implements a cooperative, single-threaded work-queue
// kernel over a small set of VirtIO devices (entropy, block, network),
// intended to sit at the heart of a bare-metal or unikernel-style
// binary. The kernel core in this package never blocks and never
// touches a device directly: it hands submissions and cancellations to
// a Platform and waits to be told, via Complete, when something
// finished. Work items, their queue links and timer nodes are all
// caller-owned; a Tick does allocate the short-lived slices it drains
// its queues into.
//
// Callers outside this package construct a Kernel with NewKernel,
// submit specialized requests (TimerRequest, RngRequest, BlockRequest,
// NetRecvRequest, NetSendRequest) via Submit, and drive the kernel's
// clock by calling Tick in a loop, typically gated on
// Platform.WaitForInterrupt and Kernel.NextDelay.
package vqkernel
