package chat

import (
	"context"
	"sync"
)

// Locker serialises turns on one session. The returned func releases the lock.
type Locker interface {
	Lock(ctx context.Context, sessionID uint64) (func(), error)
}

// LocalLocker is the single-process Locker, used when Redis is not configured.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[uint64]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[uint64]*lockSlot)}
}

func (l *LocalLocker) Lock(ctx context.Context, sessionID uint64) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[sessionID]
	if !ok {
		s = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[sessionID] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.drop(sessionID, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.drop(sessionID, s)
		})
	}, nil
}

func (l *LocalLocker) drop(id uint64, s *lockSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, id)
	}
}
