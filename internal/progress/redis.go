package progress

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisSink forwards broker events to a Redis pub/sub channel so UI surfaces
// in other processes can follow a job.
type RedisSink struct {
	client  redisPublisher
	channel string
	log     logrus.FieldLogger
}

func NewRedisSink(client redisPublisher, channel string, log logrus.FieldLogger) *RedisSink {
	if channel == "" {
		channel = "blockctl:progress"
	}
	return &RedisSink{client: client, channel: channel, log: log}
}

// Run drains a broker subscription until ctx is done.
func (s *RedisSink) Run(ctx context.Context, b *Broker) {
	relay(ctx, b, s)
}

// Forward publishes a single event. Failures are logged, not returned:
// delivery is best-effort.
func (s *RedisSink) Forward(ctx context.Context, e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		s.log.WithError(err).Warn("encode progress event")
		return
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		s.log.WithError(err).WithField("channel", s.channel).Debug("progress event not delivered")
	}
}
