// Package context provides the shared value threaded through every
// long-lived task (signer loop, coordinator loop, gossip overlay, chain
// observer, state machines): a signal bus, a termination latch, and
// cheap handles to store and network. This breaks the cyclic ownership
// between those components (spec §9 design note), grounded on
// original_source/signer/src/context.rs's SignerContext/SignerSignal/
// TerminationHandle, translated to Go channels.
package context

import (
	"sync"
)

// Signal is anything broadcast on the signal bus: bitcoin/stacks block
// observations, gossip events, state-machine completions.
type Signal interface {
	isSignal()
}

// BlockObserved signals a new canonical bitcoin or stacks block.
type BlockObserved struct {
	Height uint64
	Hash   [32]byte
}

func (BlockObserved) isSignal() {}

// DecisionRecorded signals that this signer recorded and gossiped a
// (can_accept, can_sign) decision for a request.
type DecisionRecorded struct {
	RequestKey string
}

func (DecisionRecorded) isSignal() {}

// RoundCompleted signals a DKG or signing round finished (successfully
// or aborted).
type RoundCompleted struct {
	Aborted bool
	Err     error
}

func (RoundCompleted) isSignal() {}

// SignalBus fans out signals to every current subscriber. Subscribing
// and publishing are safe for concurrent use.
type SignalBus struct {
	mutex       sync.Mutex
	subscribers map[int]chan Signal
	nextID      int
}

func NewSignalBus() *SignalBus {
	return &SignalBus{subscribers: make(map[int]chan Signal)}
}

// Subscribe returns a channel receiving every signal published after
// this call, and an unsubscribe function the caller must call when
// done listening.
func (b *SignalBus) Subscribe() (<-chan Signal, func()) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Signal, 32)
	b.subscribers[id] = ch

	unsubscribe := func() {
		b.mutex.Lock()
		defer b.mutex.Unlock()
		if sub, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(sub)
		}
	}
	return ch, unsubscribe
}

// Publish fans s out to every current subscriber, dropping it for any
// subscriber whose buffer is full rather than blocking the publisher.
func (b *SignalBus) Publish(s Signal) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- s:
		default:
		}
	}
}

// TerminationHandle is a single-producer, multi-consumer latch: setting
// it causes every long-lived task watching Done() to finish its current
// cooperative step and exit (spec §5 cancellation).
type TerminationHandle struct {
	once sync.Once
	done chan struct{}
}

func NewTerminationHandle() *TerminationHandle {
	return &TerminationHandle{done: make(chan struct{})}
}

// Done returns a channel closed once the latch has been set.
func (h *TerminationHandle) Done() <-chan struct{} { return h.done }

// Set triggers shutdown; safe to call more than once or concurrently.
func (h *TerminationHandle) Set() {
	h.once.Do(func() { close(h.done) })
}

// IsSet reports whether the latch has already been set.
func (h *TerminationHandle) IsSet() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// StoreHandle and NetHandle are the narrow capability sets the event
// loops need; they are defined here as interfaces rather than concrete
// types so Context stays independent of pkg/store and pkg/net's
// implementation packages (spec §9: "prefer static dispatch with
// generic event loops parameterized by backend types").
type StoreHandle interface {
	Clone() StoreHandle
}

type NetHandle interface {
	Clone() NetHandle
}

// Context is the single shared value passed by reference through every
// event loop, replacing ambient globals.
type Context struct {
	Signals     *SignalBus
	Termination *TerminationHandle
	Store       StoreHandle
	Net         NetHandle
}

// New builds a fresh Context with a new signal bus and termination
// latch, wrapping the given store/net handles.
func New(store StoreHandle, net NetHandle) *Context {
	return &Context{
		Signals:     NewSignalBus(),
		Termination: NewTerminationHandle(),
		Store:       store,
		Net:         net,
	}
}
