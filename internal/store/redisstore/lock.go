package redisstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrLockBusy = errors.New("lock busy")

// compare-and-delete so a holder whose TTL expired never frees someone else's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extend the TTL only while the caller still owns the key.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

type Store struct {
	rdb *redis.Client
}

func New(addr, password string, db int) *Store {
	return &Store{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func NewFromClient(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

func (s *Store) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

func (s *Store) Close() error { return s.rdb.Close() }

// SessionLocker is an advisory lock keyed by chat session id. The holder
// renews the TTL every third of it until release, so the TTL only bounds how
// long a crashed process keeps a session blocked.
type SessionLocker struct {
	store *Store
	ttl   time.Duration
	wait  time.Duration
	poll  time.Duration
}

func NewSessionLocker(s *Store, ttl, wait time.Duration) *SessionLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &SessionLocker{store: s, ttl: ttl, wait: wait, poll: 100 * time.Millisecond}
}

func sessionLockKey(sessionID uint64) string {
	return fmt.Sprintf("chat:session:%d:lock", sessionID)
}

// Lock blocks up to the configured wait for the session's lock. The returned
// func stops renewal and releases the lock; extra calls are no-ops.
func (l *SessionLocker) Lock(ctx context.Context, sessionID uint64) (func(), error) {
	token, err := randomToken()
	if err != nil {
		return nil, err
	}
	key := sessionLockKey(sessionID)
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.store.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return l.hold(key, token), nil
		}
		if !time.Now().Before(deadline) {
			return nil, ErrLockBusy
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.poll):
		}
	}
}

// hold starts the renewal loop and returns the release func.
func (l *SessionLocker) hold(key, token string) func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(l.ttl / 3)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				n, err := renewScript.Run(rctx, l.store.rdb, []string{key}, token, l.ttl.Milliseconds()).Int()
				cancel()
				if err == nil && n == 0 {
					// expired or taken over; nothing left to renew
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// detached: the request ctx may already be cancelled
			rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = releaseScript.Run(rctx, l.store.rdb, []string{key}, token).Err()
		})
	}
}

func randomToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
