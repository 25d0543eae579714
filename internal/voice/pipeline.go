package voice

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/voice-call-lab/internal/config"
)

// Queue sizes between pipeline stages.
const (
	ingestQueue     = 256
	recognizerQueue = 100
	transcriptQueue = 100
	replyQueue      = 100
)

// State is the lifecycle position of a call pipeline.
type State int32

const (
	StateAwaitingStart State = iota
	StateActive
	StateDraining
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateAwaitingStart:
		return "AWAITING_START"
	case StateActive:
		return "ACTIVE"
	case StateDraining:
		return "DRAINING"
	default:
		return "TERMINATED"
	}
}

// CallPipeline owns every channel and goroutine of one call. It is created
// when the transport connects and is TERMINATED once all its tasks exit.
type CallPipeline struct {
	callID    string
	streamID  string
	mode      config.TranscriptionMode
	startedAt time.Time

	state atomic.Int32
	done  chan struct{}

	// media is the inbound stream in streaming mode. Closing it is how a
	// hangup reaches the stages: ingestion ends and every channel after it
	// closes in turn.
	media MediaConn

	// intake receives webhook transcripts in classic mode. Senders hold mu
	// for reading; closing intake takes it for writing. stop is closed first
	// so blocked senders give up before hangup waits for the lock.
	mu       sync.RWMutex
	intake   chan Transcript
	closed   bool
	stop     chan struct{}
	stopOnce sync.Once
}

func newPipeline(mode config.TranscriptionMode) *CallPipeline {
	p := &CallPipeline{mode: mode, done: make(chan struct{}), stop: make(chan struct{}), startedAt: time.Now()}
	p.state.Store(int32(StateAwaitingStart))
	return p
}

func (p *CallPipeline) CallID() string   { return p.callID }
func (p *CallPipeline) StreamID() string { return p.streamID }
func (p *CallPipeline) State() State     { return State(p.state.Load()) }

// Done is closed when the pipeline reaches TERMINATED.
func (p *CallPipeline) Done() <-chan struct{} { return p.done }

func (p *CallPipeline) activate() { p.state.Store(int32(StateActive)) }

// drain moves ACTIVE to DRAINING; later states are left alone.
func (p *CallPipeline) drain() {
	p.state.CompareAndSwap(int32(StateActive), int32(StateDraining))
}

func (p *CallPipeline) terminate() {
	p.state.Store(int32(StateTerminated))
	close(p.done)
}

// submit hands a classic-mode transcript to the responder, waiting for
// queue space. It fails once hangup has begun, including while waiting.
func (p *CallPipeline) submit(t Transcript) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.intake == nil || p.closed {
		return ErrNoPipeline
	}
	select {
	case p.intake <- t:
		return nil
	case <-p.stop:
		return ErrNoPipeline
	}
}

// hangup closes the pipeline's inbound side and lets the rest drain.
func (p *CallPipeline) hangup() {
	p.drain()
	if p.media != nil {
		_ = p.media.Close()
	}
	p.stopOnce.Do(func() { close(p.stop) })
	p.mu.Lock()
	if p.intake != nil && !p.closed {
		p.closed = true
		close(p.intake)
	}
	p.mu.Unlock()
}

// PipelineInfo is a point-in-time view of a pipeline.
type PipelineInfo struct {
	CallID    string    `json:"call_control_id"`
	StreamID  string    `json:"stream_id,omitempty"`
	Mode      string    `json:"mode"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"started_at"`
}

func (p *CallPipeline) Info() PipelineInfo {
	return PipelineInfo{
		CallID:    p.callID,
		StreamID:  p.streamID,
		Mode:      string(p.mode),
		State:     p.State().String(),
		StartedAt: p.startedAt,
	}
}
