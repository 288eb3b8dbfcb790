package vqkernel

import "sync"

// MockPlatform is a Platform implementation for exercising Kernel in
// isolation, without any real VirtIO transport. Tests drive device
// completions directly by calling Complete via the kernel reference
// passed to Tick, recording call counts the way the teacher's
// MockBackend does for its own interface.
type MockPlatform struct {
	mu sync.Mutex

	SubmitCalls  int
	TickCalls    int
	WaitCalls    int
	ReleaseCalls int
	AbortCalls   int

	LastSubmissions  []*Work
	LastCancellations []*Work

	// TickFunc, if set, is invoked from Tick in place of the default
	// no-op, letting a test simulate a device completing work mid-tick.
	TickFunc func(k *Kernel)

	// WaitReturnMs is returned verbatim by WaitForInterrupt.
	WaitReturnMs int64
}

var _ Platform = (*MockPlatform)(nil)

func NewMockPlatform() *MockPlatform {
	return &MockPlatform{}
}

func (p *MockPlatform) Submit(submissions []*Work, cancellations []*Work) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SubmitCalls++
	p.LastSubmissions = submissions
	p.LastCancellations = cancellations
}

func (p *MockPlatform) Tick(k *Kernel) {
	p.mu.Lock()
	fn := p.TickFunc
	p.TickCalls++
	p.mu.Unlock()
	if fn != nil {
		fn(k)
	}
}

func (p *MockPlatform) WaitForInterrupt(timeoutMs int64) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.WaitCalls++
	return p.WaitReturnMs
}

func (p *MockPlatform) ReleaseNetBuffer(req *NetRecvRequest, bufferIndex int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ReleaseCalls++
}

func (p *MockPlatform) Abort() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.AbortCalls++
}
