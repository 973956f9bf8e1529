package redisps

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"linkrt/logging"
	"linkrt/transport"
)

const (
	tokenUp   = "up"
	tokenDown = "down"
)

type token struct {
	key     string
	session *Session
	stop    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	err     error
}

func (t *token) Key() string { return t.key }

// Undeclare stops the heartbeat and marks the token gone.
func (t *token) Undeclare(ctx context.Context) error {
	t.session.mu.Lock()
	delete(t.session.tokens, t)
	t.session.mu.Unlock()
	return t.undeclare(ctx)
}

func (t *token) undeclare(ctx context.Context) error {
	t.once.Do(func() {
		close(t.stop)
		t.wg.Wait()
		s := t.session
		t.err = s.client.Set(ctx, s.channel(spaceLive, t.key), tokenDown, s.cfg.LivelinessTTL).Err()
	})
	return t.err
}

func (t *token) heartbeat(every time.Duration) {
	defer t.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	s := t.session
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), every)
			err := s.client.Set(ctx, s.channel(spaceLive, t.key), tokenUp, s.cfg.LivelinessTTL).Err()
			cancel()
			if err != nil {
				s.logger.Warn(context.Background(), "liveliness heartbeat failed",
					logging.String("key", t.key), logging.Error(err))
			}
		}
	}
}

// DeclareToken sets an expiring "up" key and refreshes it until undeclared.
func (s *Session) DeclareToken(ctx context.Context, key string) (transport.Token, error) {
	if err := transport.ValidateKey(key); err != nil {
		return nil, err
	}
	if transport.HasWildcard(key) {
		return nil, transport.ErrInvalidKey
	}
	if s.isClosed() {
		return nil, transport.ErrClosed
	}

	if err := s.client.Set(ctx, s.channel(spaceLive, key), tokenUp, s.cfg.LivelinessTTL).Err(); err != nil {
		return nil, err
	}

	t := &token{key: key, session: s, stop: make(chan struct{})}
	every := s.cfg.LivelinessTTL / 3
	if every <= 0 {
		every = time.Second
	}
	t.wg.Add(1)
	go t.heartbeat(every)

	s.mu.Lock()
	s.tokens[t] = struct{}{}
	s.mu.Unlock()
	return t, nil
}

// Liveliness reads the token state; wildcard keys are resolved with SCAN.
func (s *Session) Liveliness(ctx context.Context, key string) (transport.Liveness, error) {
	if err := transport.ValidateKey(key); err != nil {
		return transport.LivenessUnknown, err
	}
	if s.isClosed() {
		return transport.LivenessUnknown, transport.ErrClosed
	}

	if !transport.HasWildcard(key) {
		return s.stateOf(ctx, s.channel(spaceLive, key))
	}

	prefix := s.channel(spaceLive, "")
	result := transport.LivenessUnknown
	iter := s.client.Scan(ctx, 0, s.channel(spaceLive, globOf(key)), 100).Iterator()
	for iter.Next(ctx) {
		full := iter.Val()
		if !transport.Match(key, strings.TrimPrefix(full, prefix)) {
			continue
		}
		state, err := s.stateOf(ctx, full)
		if err != nil {
			return transport.LivenessUnknown, err
		}
		if state == transport.LivenessAlive {
			return state, nil
		}
		if state == transport.LivenessGone {
			result = state
		}
	}
	if err := iter.Err(); err != nil {
		return transport.LivenessUnknown, err
	}
	return result, nil
}

func (s *Session) stateOf(ctx context.Context, redisKey string) (transport.Liveness, error) {
	v, err := s.client.Get(ctx, redisKey).Result()
	if errors.Is(err, redis.Nil) {
		return transport.LivenessUnknown, nil
	}
	if err != nil {
		return transport.LivenessUnknown, err
	}
	if v == tokenUp {
		return transport.LivenessAlive, nil
	}
	return transport.LivenessGone, nil
}
