// Package generator prefetches expensive cryptographic parameters
// ahead of when a protocol round needs them, so a DKG or signing round
// never blocks on generation. Kept from the teacher in its original
// generic shape (pool_test.go exercises ParameterPool[big.Int]
// directly); nonce.go instantiates it for the Schnorr per-input nonces
// spec §4.4 step 3 needs.
package generator

import (
	"context"
	"fmt"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
)

var logger = logging.Logger("sbtc-signer:generator")

// PersistenceHandle lets a ParameterPool survive a restart without
// regenerating already-available parameters.
type PersistenceHandle[T any] interface {
	Save(element *T) error
	Delete(element *T) error
	ReadAll() ([]*T, error)
}

// Scheduler holds the ProtocolLatches registered with it and the stop
// signal that ends every pool's background generation loop. It does not
// engage the latches itself, and generateLoop does not consult them.
type Scheduler struct {
	mutex   sync.Mutex
	latches []*ProtocolLatch
	stopped bool
}

func (s *Scheduler) RegisterProtocol(latch *ProtocolLatch) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.latches = append(s.latches, latch)
}

func (s *Scheduler) stop() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.stopped = true
}

func (s *Scheduler) isStopped() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.stopped
}

// ProtocolLatch lets an in-progress protocol round pause background
// generation for its duration.
type ProtocolLatch struct {
	mutex sync.Mutex
	count int
}

func NewProtocolLatch() *ProtocolLatch { return &ProtocolLatch{} }

func (l *ProtocolLatch) Lock() {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.count++
}

func (l *ProtocolLatch) Unlock() {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.count > 0 {
		l.count--
	}
}

func (l *ProtocolLatch) isEngaged() bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.count > 0
}

// ParameterPool maintains a background-filled buffer of up to
// targetSize pre-generated parameters, backed by persistence so a
// restart does not lose generated-but-unused work.
type ParameterPool[T any] struct {
	mutex      sync.Mutex
	pool       []*T
	targetSize int

	persistence PersistenceHandle[T]
}

// NewParameterPool creates a pool and starts its background generation
// loop, reading any previously-persisted parameters first.
func NewParameterPool[T any](
	log interface{ Infof(string, ...interface{}) },
	scheduler *Scheduler,
	persistence PersistenceHandle[T],
	targetSize int,
	generateFn func(ctx context.Context) *T,
	delay time.Duration,
) *ParameterPool[T] {
	pool := &ParameterPool[T]{targetSize: targetSize, persistence: persistence}

	existing, err := persistence.ReadAll()
	if err == nil {
		pool.pool = append(pool.pool, existing...)
	}

	go pool.generateLoop(scheduler, generateFn, delay)

	return pool
}

func (p *ParameterPool[T]) generateLoop(scheduler *Scheduler, generateFn func(context.Context) *T, delay time.Duration) {
	for {
		if scheduler.isStopped() {
			return
		}
		if p.CurrentSize() >= p.targetSize {
			time.Sleep(time.Millisecond)
			continue
		}

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			for !scheduler.isStopped() {
				time.Sleep(time.Millisecond)
			}
			cancel()
		}()

		element := generateFn(ctx)
		cancel()

		if element == nil {
			continue
		}
		if err := p.persistence.Save(element); err != nil {
			logger.Errorf("failed to persist generated parameter: [%v]", err)
			continue
		}

		p.mutex.Lock()
		p.pool = append(p.pool, element)
		p.mutex.Unlock()

		if delay > 0 {
			time.Sleep(delay)
		}
	}
}

// CurrentSize reports how many pre-generated parameters are currently
// available.
func (p *ParameterPool[T]) CurrentSize() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.pool)
}

// GetNow pops one available parameter, or fails immediately if the
// pool is empty - callers needing a parameter on a tight deadline must
// not block on generation.
func (p *ParameterPool[T]) GetNow() (*T, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if len(p.pool) == 0 {
		return nil, fmt.Errorf("pool is empty")
	}

	element := p.pool[0]
	p.pool = p.pool[1:]

	if err := p.persistence.Delete(element); err != nil {
		logger.Errorf("failed to delete consumed parameter from persistence: [%v]", err)
	}

	return element, nil
}
