package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vqkernel/vqkernel"
)

type fakeEntropy struct {
	submitResult vqkernel.Result
	submitted    []*vqkernel.RngRequest
	ticked       int
}

func (f *fakeEntropy) Submit(r *vqkernel.RngRequest) vqkernel.Result {
	f.submitted = append(f.submitted, r)
	return f.submitResult
}
func (f *fakeEntropy) ProcessCompletions(*vqkernel.Kernel) { f.ticked++ }

type fakeBlock struct{ ticked int }

func (f *fakeBlock) Submit(*vqkernel.BlockRequest) vqkernel.Result { return vqkernel.ResultOk }
func (f *fakeBlock) ProcessCompletions(*vqkernel.Kernel)           { f.ticked++ }

type fakeNet struct {
	cancelled []*vqkernel.NetRecvRequest
	rxTicked  int
	txTicked  int
}

func (f *fakeNet) SubmitRecv(*vqkernel.NetRecvRequest) vqkernel.Result { return vqkernel.ResultOk }
func (f *fakeNet) SubmitSend(*vqkernel.NetSendRequest) vqkernel.Result { return vqkernel.ResultOk }
func (f *fakeNet) ReleaseBuffer(*vqkernel.NetRecvRequest, int)         {}
func (f *fakeNet) CancelRecv(k *vqkernel.Kernel, req *vqkernel.NetRecvRequest) {
	f.cancelled = append(f.cancelled, req)
	k.Complete(&req.Work, vqkernel.ResultCancelled)
}
func (f *fakeNet) ProcessRecvCompletions(*vqkernel.Kernel) { f.rxTicked++ }
func (f *fakeNet) ProcessSendCompletions(*vqkernel.Kernel) { f.txTicked++ }

func TestDispatcherMarksLiveOnSuccessfulSubmit(t *testing.T) {
	entropy := &fakeEntropy{submitResult: vqkernel.ResultOk}
	d := &Dispatcher{Entropy: entropy, Block: &fakeBlock{}, Net: &fakeNet{}}
	k := vqkernel.NewKernel(d)
	d.SetKernel(k)

	var r vqkernel.RngRequest
	vqkernel.InitRng(&r, make([]byte, 4), nil, func(*vqkernel.Work) {}, 0)
	require.Equal(t, vqkernel.ResultOk, k.Submit(&r.Work))

	k.Tick(1)
	assert.Equal(t, vqkernel.StateLive, r.Work.State())
	assert.Len(t, entropy.submitted, 1)
}

func TestDispatcherCompletesBusyOnNoSpace(t *testing.T) {
	entropy := &fakeEntropy{submitResult: vqkernel.ResultNoSpace}
	d := &Dispatcher{Entropy: entropy, Block: &fakeBlock{}, Net: &fakeNet{}}
	k := vqkernel.NewKernel(d)
	d.SetKernel(k)

	var r vqkernel.RngRequest
	vqkernel.InitRng(&r, make([]byte, 4), nil, func(*vqkernel.Work) {}, 0)
	require.Equal(t, vqkernel.ResultOk, k.Submit(&r.Work))

	k.Tick(1)
	assert.Equal(t, vqkernel.StateReady, r.Work.State())
	assert.Equal(t, vqkernel.ResultBusy, r.Work.Result)

	k.Tick(2) // callback fires, item is free to be re-submitted
	assert.Equal(t, vqkernel.StateDead, r.Work.State())
}

func TestDispatcherResolvesNetRecvCancelSynchronously(t *testing.T) {
	net := &fakeNet{}
	d := &Dispatcher{Entropy: &fakeEntropy{}, Block: &fakeBlock{}, Net: net}
	k := vqkernel.NewKernel(d)
	d.SetKernel(k)

	ring := []vqkernel.RecvBuffer{{Buffer: make([]byte, 64)}}
	var r vqkernel.NetRecvRequest
	var got vqkernel.Result
	vqkernel.InitNetRecv(&r, ring, nil, func(w *vqkernel.Work) { got = w.Result }, 0)

	require.Equal(t, vqkernel.ResultOk, k.Submit(&r.Work))
	k.Tick(1) // submit -> Live
	require.Equal(t, vqkernel.ResultOk, k.Cancel(&r.Work))
	k.Tick(2) // cancel forwarded to dispatcher -> CancelRecv -> Ready

	assert.Len(t, net.cancelled, 1)
	k.Tick(3) // ready queue drains, callback fires
	assert.Equal(t, vqkernel.ResultCancelled, got)
}

func TestDispatcherIgnoresNetSendCancellation(t *testing.T) {
	d := &Dispatcher{Entropy: &fakeEntropy{}, Block: &fakeBlock{}, Net: &fakeNet{}}
	k := vqkernel.NewKernel(d)
	d.SetKernel(k)

	var r vqkernel.NetSendRequest
	vqkernel.InitNetSend(&r, [][]byte{[]byte("x")}, nil, func(*vqkernel.Work) {}, 0)
	require.Equal(t, vqkernel.ResultOk, k.Submit(&r.Work))
	k.Tick(1)
	// NetSendRequest is not Cancellable at the type level; Kernel.Cancel
	// still accepts a bare *Work, but the dispatcher must not act on it.
	assert.Equal(t, vqkernel.ResultOk, k.Cancel(&r.Work))
	k.Tick(2)
	// The dispatcher drops the forwarded cancellation outright; only the
	// driver's own completion path (not exercised by this fake) can ever
	// move the request out of CancelRequested, matching "runs to
	// completion" for NetSend.
	assert.Equal(t, vqkernel.StateCancelRequested, r.Work.State())
}
