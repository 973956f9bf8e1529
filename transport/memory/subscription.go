package memory

import (
	"sync"

	"linkrt/transport"
)

type subscription struct {
	id      uint64
	key     string
	session *Session
	query   bool

	onSample transport.SampleHandler
	onQuery  transport.QueryHandler

	once sync.Once
}

func (s *subscription) Key() string { return s.key }

// Close 取消订阅，可重复调用
func (s *subscription) Close() error {
	s.once.Do(func() {
		s.session.mu.Lock()
		defer s.session.mu.Unlock()
		if s.query {
			delete(s.session.queryables, s.id)
		} else {
			delete(s.session.subs, s.id)
		}
	})
	return nil
}

// Subscribe 订阅路由键（支持 * / ** 通配）
func (s *Session) Subscribe(key string, handler transport.SampleHandler) (transport.Subscription, error) {
	if err := transport.ValidateKey(key); err != nil {
		return nil, err
	}
	if s.isClosed() {
		return nil, transport.ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	sub := &subscription{id: s.nextID, key: key, session: s, onSample: handler}
	s.subs[sub.id] = sub
	return sub, nil
}

// DeclareQueryable 声明查询处理者
func (s *Session) DeclareQueryable(key string, handler transport.QueryHandler) (transport.Subscription, error) {
	if err := transport.ValidateKey(key); err != nil {
		return nil, err
	}
	if s.isClosed() {
		return nil, transport.ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	sub := &subscription{id: s.nextID, key: key, session: s, query: true, onQuery: handler}
	s.queryables[sub.id] = sub
	return sub, nil
}
