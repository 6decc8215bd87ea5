package progress

import "context"

// Sink delivers events to an out-of-process observer.
type Sink interface {
	Forward(ctx context.Context, e Event)
}

func relay(ctx context.Context, b *Broker, s Sink) {
	events, cancel := b.Subscribe(64)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			s.Forward(ctx, e)
		}
	}
}
