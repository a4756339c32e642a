package detections

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const acquireTimeout = 5 * time.Second

// SessionPool hands out model sessions to at most MaxAcceleratorSessions
// concurrent users.
type SessionPool struct {
	sessions chan *ModelSession
	size     int
	mu       sync.Mutex
	closed   bool
	metrics  poolMetrics
}

type poolMetrics struct {
	mu              sync.RWMutex
	inUse           int
	totalAcquired   int64
	totalReleased   int64
	acquireFailures int64
	waitTime        time.Duration
}

// PoolMetricsSnapshot is a copyable view of pool counters.
type PoolMetricsSnapshot struct {
	Size            int           `json:"size"`
	InUse           int           `json:"in_use"`
	TotalAcquired   int64         `json:"total_acquired"`
	TotalReleased   int64         `json:"total_released"`
	AcquireFailures int64         `json:"acquire_failures"`
	TotalWait       time.Duration `json:"total_wait_ns"`
}

func newSessionPool(modelPath string, numClasses, size int, device string) (*SessionPool, error) {
	if size <= 0 || size > MaxAcceleratorSessions {
		size = MaxAcceleratorSessions
	}

	pool := &SessionPool{
		sessions: make(chan *ModelSession, size),
		size:     size,
	}

	for i := 0; i < size; i++ {
		session, err := newModelSession(modelPath, numClasses, device)
		if err != nil {
			pool.Destroy()
			return nil, fmt.Errorf("initialize session %d: %w", i, err)
		}
		pool.sessions <- session
	}

	return pool, nil
}

func (p *SessionPool) Acquire(ctx context.Context) (*ModelSession, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("pool is closed")
	}

	start := time.Now()
	defer func() {
		p.metrics.mu.Lock()
		p.metrics.waitTime += time.Since(start)
		p.metrics.mu.Unlock()
	}()

	select {
	case session := <-p.sessions:
		p.metrics.mu.Lock()
		p.metrics.inUse++
		p.metrics.totalAcquired++
		p.metrics.mu.Unlock()
		return session, nil
	case <-time.After(acquireTimeout):
		p.metrics.mu.Lock()
		p.metrics.acquireFailures++
		p.metrics.mu.Unlock()
		return nil, fmt.Errorf("timeout waiting for available session")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release holds the pool lock across the closed check and the channel send so
// a concurrent Destroy cannot close the channel in between. The send never
// blocks: the channel buffer covers every outstanding session.
func (p *SessionPool) Release(session *ModelSession) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		session.Destroy()
		return
	}

	p.metrics.mu.Lock()
	p.metrics.inUse--
	p.metrics.totalReleased++
	p.metrics.mu.Unlock()

	p.sessions <- session
}

// warmUp runs a dummy inference on every pooled session.
func (p *SessionPool) warmUp() error {
	warmed := make([]*ModelSession, 0, p.size)
	defer func() {
		for _, s := range warmed {
			p.sessions <- s
		}
	}()

	for i := 0; i < p.size; i++ {
		session := <-p.sessions
		warmed = append(warmed, session)
		if err := session.warmUp(); err != nil {
			return fmt.Errorf("warm up session %d: %w", i, err)
		}
	}
	return nil
}

func (p *SessionPool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.closed = true
	close(p.sessions)

	for session := range p.sessions {
		session.Destroy()
	}
}

func (p *SessionPool) Metrics() PoolMetricsSnapshot {
	p.metrics.mu.RLock()
	defer p.metrics.mu.RUnlock()
	return PoolMetricsSnapshot{
		Size:            p.size,
		InUse:           p.metrics.inUse,
		TotalAcquired:   p.metrics.totalAcquired,
		TotalReleased:   p.metrics.totalReleased,
		AcquireFailures: p.metrics.acquireFailures,
		TotalWait:       p.metrics.waitTime,
	}
}
