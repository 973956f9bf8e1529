package memory

import (
	"context"
	"sync"

	"linkrt/transport"
)

type token struct {
	key     string
	session *Session
	once    sync.Once
}

func (t *token) Key() string { return t.key }

// Undeclare 撤销令牌，可重复调用
func (t *token) Undeclare(ctx context.Context) error {
	t.once.Do(func() {
		t.session.mu.Lock()
		defer t.session.mu.Unlock()
		if n := t.session.tokens[t.key]; n > 1 {
			t.session.tokens[t.key] = n - 1
		} else {
			delete(t.session.tokens, t.key)
		}
	})
	return nil
}

// DeclareToken 声明存活令牌
func (s *Session) DeclareToken(ctx context.Context, key string) (transport.Token, error) {
	if err := transport.ValidateKey(key); err != nil {
		return nil, err
	}
	if s.isClosed() {
		return nil, transport.ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[key]++
	s.declared[key] = struct{}{}
	return &token{key: key, session: s}, nil
}

// Liveliness 查询最近的存活状态：有令牌为 Alive，曾经声明过为 Gone，否则 Unknown
func (s *Session) Liveliness(ctx context.Context, key string) (transport.Liveness, error) {
	if err := transport.ValidateKey(key); err != nil {
		return transport.LivenessUnknown, err
	}
	if s.isClosed() {
		return transport.LivenessUnknown, transport.ErrClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for k, n := range s.tokens {
		if n > 0 && (transport.Match(key, k) || transport.Match(k, key)) {
			return transport.LivenessAlive, nil
		}
	}
	for k := range s.declared {
		if transport.Match(key, k) || transport.Match(k, key) {
			return transport.LivenessGone, nil
		}
	}
	return transport.LivenessUnknown, nil
}
