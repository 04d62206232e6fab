package control

import (
	"sync"

	"golang.org/x/sync/semaphore"

	"service-agent/internal/domain"
)

// keyedLock serializes mutating operations per service name. A service is
// held by at most one operation; contenders fail fast instead of queueing.
type keyedLock struct {
	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
	held map[string]domain.OperationKind
}

func newKeyedLock() *keyedLock {
	return &keyedLock{
		sems: make(map[string]*semaphore.Weighted),
		held: make(map[string]domain.OperationKind),
	}
}

// tryAcquire takes the lock for name on behalf of op. When the lock is
// already held it returns the kind of the operation holding it.
func (k *keyedLock) tryAcquire(name string, op domain.OperationKind) (*lease, domain.OperationKind, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	sem, ok := k.sems[name]
	if !ok {
		sem = semaphore.NewWeighted(1)
		k.sems[name] = sem
	}
	if !sem.TryAcquire(1) {
		return nil, k.held[name], false
	}
	k.held[name] = op
	return &lease{refs: 1, release: func() {
		k.mu.Lock()
		defer k.mu.Unlock()
		delete(k.held, name)
		sem.Release(1)
	}}, "", true
}

// inFlight reports the operation currently holding name, if any.
func (k *keyedLock) inFlight(name string) (domain.OperationKind, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	op, ok := k.held[name]
	return op, ok
}

// lease is a reference-counted hold on one service. The operation owns one
// reference and every detached executor call owns another, so a call that
// outlives its timeout keeps the service locked until it returns.
type lease struct {
	mu      sync.Mutex
	refs    int
	release func()
}

func (l *lease) hold() {
	l.mu.Lock()
	l.refs++
	l.mu.Unlock()
}

func (l *lease) done() {
	l.mu.Lock()
	l.refs--
	last := l.refs == 0
	l.mu.Unlock()
	if last {
		l.release()
	}
}
