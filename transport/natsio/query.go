package natsio

import (
	"context"
	"sync"

	"github.com/nats-io/nats.go"

	"linkrt/logging"
	"linkrt/transport"
)

const replyBuffer = 16

// Get publishes a query with a private inbox and streams every reply until
// ctx is done. A no-responders status from the server closes the stream early.
func (s *Session) Get(ctx context.Context, key string, payload []byte, qos transport.QoS) (<-chan transport.Reply, error) {
	if err := transport.ValidateKey(key); err != nil {
		return nil, err
	}
	if transport.HasWildcard(key) {
		return nil, transport.ErrInvalidKey
	}
	if s.isClosed() {
		return nil, transport.ErrClosed
	}

	out := make(chan transport.Reply, replyBuffer)
	var (
		mu     sync.Mutex
		closed bool
	)
	finish := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			close(out)
		}
	}

	inbox := nats.NewInbox()
	done := make(chan struct{})
	var doneOnce sync.Once
	sub, err := s.conn.Subscribe(inbox, func(m *nats.Msg) {
		if m.Header.Get(hdrStatus) == statusNoResponders && len(m.Data) == 0 {
			doneOnce.Do(func() { close(done) })
			return
		}
		reply := transport.Reply{
			Key:     m.Header.Get(hdrKey),
			Payload: m.Data,
			Err:     m.Header.Get(hdrError),
		}
		if reply.Key == "" {
			reply.Key = key
		}
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case out <- reply:
		default:
			s.logger.Warn(ctx, "reply buffer full, reply dropped", logging.String("key", key))
		}
	})
	if err != nil {
		return nil, err
	}

	msg := &nats.Msg{
		Subject: subjectOf(key),
		Reply:   inbox,
		Data:    payload,
		Header:  qosHeader(nil, qos),
	}
	if err := s.conn.PublishMsg(msg); err != nil {
		_ = sub.Unsubscribe()
		return nil, err
	}
	if err := s.flush(ctx); err != nil {
		_ = sub.Unsubscribe()
		return nil, err
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		_ = sub.Unsubscribe()
		finish()
	}()
	return out, nil
}

// DeclareQueryable subscribes to queries on a key expression.
func (s *Session) DeclareQueryable(key string, handler transport.QueryHandler) (transport.Subscription, error) {
	if err := transport.ValidateKey(key); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, transport.ErrClosed
	}

	subject, filter := subscriptionSubject(key)
	ns, err := s.conn.Subscribe(subject, func(m *nats.Msg) {
		if m.Reply == "" {
			return
		}
		k := keyOf(m.Subject)
		if filter && !transport.Match(key, k) {
			return
		}
		handler(transport.NewQuery(k, m.Data, qosFromHeader(m.Header), &responder{session: s, inbox: m.Reply}))
	})
	if err != nil {
		return nil, err
	}
	if err := s.conn.FlushTimeout(s.cfg.FlushTimeout); err != nil {
		_ = ns.Unsubscribe()
		return nil, err
	}

	sub := &subscription{key: key, sub: ns, session: s, query: true}
	s.queryables[sub] = struct{}{}
	return sub, nil
}

type responder struct {
	session *Session
	inbox   string
}

func (r *responder) Reply(ctx context.Context, key string, payload []byte, qos transport.QoS) error {
	msg := &nats.Msg{Subject: r.inbox, Data: payload, Header: qosHeader(nil, qos)}
	msg.Header.Set(hdrKey, key)
	return r.publish(ctx, msg, qos)
}

func (r *responder) ReplyErr(ctx context.Context, key string, message string) error {
	msg := &nats.Msg{Subject: r.inbox, Header: nats.Header{}}
	msg.Header.Set(hdrKey, key)
	msg.Header.Set(hdrError, message)
	return r.publish(ctx, msg, transport.QoS{Priority: transport.PriorityRealTime, Reliable: true, Block: true, Express: true})
}

func (r *responder) publish(ctx context.Context, msg *nats.Msg, qos transport.QoS) error {
	if r.session.isClosed() {
		return transport.ErrClosed
	}
	if err := r.session.conn.PublishMsg(msg); err != nil {
		return err
	}
	if qos.Express || qos.Block {
		return r.session.flush(ctx)
	}
	return nil
}
