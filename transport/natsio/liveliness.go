package natsio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"linkrt/logging"
	"linkrt/transport"
)

var (
	tokenUp   = []byte("up")
	tokenDown = []byte("down")
)

// keyValue 返回存活令牌桶，不存在时创建（内存存储，条目按 TTL 过期）
func (s *Session) keyValue() (nats.KeyValue, error) {
	s.mu.RLock()
	kv := s.kv
	s.mu.RUnlock()
	if kv != nil {
		return kv, nil
	}

	js, err := s.conn.JetStream()
	if err != nil {
		return nil, err
	}
	kv, err = js.KeyValue(s.cfg.LivelinessBucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      s.cfg.LivelinessBucket,
			Description: "linkrt liveliness tokens",
			History:     1,
			TTL:         s.cfg.LivelinessTTL,
			Storage:     nats.MemoryStorage,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("liveliness bucket %s: %w", s.cfg.LivelinessBucket, err)
	}

	s.mu.Lock()
	if s.kv == nil {
		s.kv = kv
	}
	kv = s.kv
	s.mu.Unlock()
	return kv, nil
}

// kvKey 把路由键转成合法的 KV 键：允许字符原样保留，其余写成 "=xx"
func kvKey(key string) string {
	var b strings.Builder
	for _, c := range []byte(key) {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '-', c == '_', c == '/', c == '.':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "=%02x", c)
		}
	}
	return b.String()
}

func fromKVKey(k string) string {
	var b strings.Builder
	for i := 0; i < len(k); i++ {
		if k[i] == '=' && i+2 < len(k) {
			var c byte
			if _, err := fmt.Sscanf(k[i+1:i+3], "%02x", &c); err == nil {
				b.WriteByte(c)
				i += 2
				continue
			}
		}
		b.WriteByte(k[i])
	}
	return b.String()
}

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
		kv, err := t.session.keyValue()
		if err != nil {
			t.err = err
			return
		}
		_, t.err = kv.Put(kvKey(t.key), tokenDown)
	})
	return t.err
}

func (t *token) heartbeat(kv nats.KeyValue, every time.Duration) {
	defer t.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			if _, err := kv.Put(kvKey(t.key), tokenUp); err != nil {
				t.session.logger.Warn(context.Background(), "liveliness heartbeat failed",
					logging.String("key", t.key), logging.Error(err))
			}
		}
	}
}

// DeclareToken writes an "up" entry and keeps it fresh until undeclared.
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

	kv, err := s.keyValue()
	if err != nil {
		return nil, err
	}
	if _, err := kv.Put(kvKey(key), tokenUp); err != nil {
		return nil, err
	}

	t := &token{key: key, session: s, stop: make(chan struct{})}
	t.wg.Add(1)
	go t.heartbeat(kv, s.cfg.LivelinessTTL/3)

	s.mu.Lock()
	s.tokens[t] = struct{}{}
	s.mu.Unlock()
	return t, nil
}

// Liveliness reads the latest token state. Wildcard keys scan the bucket.
func (s *Session) Liveliness(ctx context.Context, key string) (transport.Liveness, error) {
	if err := transport.ValidateKey(key); err != nil {
		return transport.LivenessUnknown, err
	}
	if s.isClosed() {
		return transport.LivenessUnknown, transport.ErrClosed
	}

	kv, err := s.keyValue()
	if err != nil {
		return transport.LivenessUnknown, err
	}

	if !transport.HasWildcard(key) {
		return s.stateOf(kv, kvKey(key))
	}

	keys, err := kv.Keys()
	if errors.Is(err, nats.ErrNoKeysFound) {
		return transport.LivenessUnknown, nil
	}
	if err != nil {
		return transport.LivenessUnknown, err
	}
	result := transport.LivenessUnknown
	for _, k := range keys {
		if !transport.Match(key, fromKVKey(k)) {
			continue
		}
		state, err := s.stateOf(kv, k)
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
	return result, nil
}

func (s *Session) stateOf(kv nats.KeyValue, k string) (transport.Liveness, error) {
	entry, err := kv.Get(k)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return transport.LivenessUnknown, nil
	}
	if err != nil {
		return transport.LivenessUnknown, err
	}
	if string(entry.Value()) == string(tokenUp) {
		return transport.LivenessAlive, nil
	}
	return transport.LivenessGone, nil
}
