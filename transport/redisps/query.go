package redisps

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"linkrt/logging"
	"linkrt/transport"
)

const replyBuffer = 16

// Get publishes a query and collects one reply per receiving queryable.
// PUBLISH reports how many queryables received the query; zero closes the
// stream immediately.
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

	replyTo := s.channel(spaceReply, uuid.NewString())
	ps := s.client.Subscribe(ctx, replyTo)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	f := newFrame(key, payload, qos)
	f.ReplyTo = replyTo
	f.SentAt = time.Now().UnixNano()
	data, err := encodeFrame(f)
	if err != nil {
		_ = ps.Close()
		return nil, err
	}
	receivers, err := s.client.Publish(ctx, s.channel(spaceQuery, key), data).Result()
	if err != nil {
		_ = ps.Close()
		return nil, err
	}

	out := make(chan transport.Reply, replyBuffer)
	if receivers == 0 {
		_ = ps.Close()
		close(out)
		return out, nil
	}

	go s.collect(ctx, ps, key, int(receivers), out)
	return out, nil
}

func (s *Session) collect(ctx context.Context, ps *redis.PubSub, key string, expected int, out chan<- transport.Reply) {
	defer close(out)
	defer ps.Close()

	ch := ps.Channel()
	for received := 0; received < expected; {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			f, err := decodeFrame(msg.Payload)
			if err != nil {
				s.logger.Warn(ctx, "decode reply failed", logging.String("key", key), logging.Error(err))
				continue
			}
			received++
			reply := transport.Reply{Key: f.Key, Payload: f.Payload, Err: f.Err}
			if reply.Key == "" {
				reply.Key = key
			}
			select {
			case out <- reply:
			case <-ctx.Done():
				return
			}
		}
	}
}

// DeclareQueryable subscribes to queries on a key expression.
func (s *Session) DeclareQueryable(key string, handler transport.QueryHandler) (transport.Subscription, error) {
	if err := transport.ValidateKey(key); err != nil {
		return nil, err
	}
	sub, err := s.listen(spaceQuery, key, true, func(f frame) {
		var r transport.Responder
		if f.ReplyTo != "" {
			r = &responder{session: s, replyTo: f.ReplyTo}
		}
		handler(transport.NewQuery(f.Key, f.Payload, f.qos(), r))
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

type responder struct {
	session *Session
	replyTo string
	once    sync.Once
}

func (r *responder) Reply(ctx context.Context, key string, payload []byte, qos transport.QoS) error {
	return r.send(ctx, newFrame(key, payload, qos))
}

func (r *responder) ReplyErr(ctx context.Context, key string, message string) error {
	return r.send(ctx, frame{Key: key, Err: message})
}

// send 每个查询只计一次应答，重复调用被忽略
func (r *responder) send(ctx context.Context, f frame) error {
	if r.session.isClosed() {
		return transport.ErrClosed
	}
	data, err := encodeFrame(f)
	if err != nil {
		return err
	}
	sent := false
	r.once.Do(func() {
		sent = true
		err = r.session.client.Publish(ctx, r.replyTo, data).Err()
	})
	if !sent {
		return nil
	}
	return err
}
