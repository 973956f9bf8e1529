package memory

import (
	"context"
	"fmt"

	"linkrt/logging"
	"linkrt/transport"
)

// worker 分发协程，按入队顺序把样本投递给匹配的订阅
func (s *Session) worker() {
	defer close(s.done)
	for sample := range s.queue {
		s.dispatch(sample)
	}
}

// dispatch 分发样本到所有匹配的订阅
func (s *Session) dispatch(sample transport.Sample) {
	s.mu.RLock()
	handlers := make([]*subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		if transport.Match(sub.key, sample.Key) {
			handlers = append(handlers, sub)
		}
	}
	s.mu.RUnlock()

	for _, sub := range handlers {
		s.invoke(sub, func() { sub.onSample(sample) })
	}
}

// invoke 调用回调并隔离 panic
func (s *Session) invoke(sub *subscription, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(context.Background(), "transport callback panicked",
				logging.String("key", sub.key),
				logging.Error(fmt.Errorf("panic: %v", r)))
		}
	}()
	fn()
}
