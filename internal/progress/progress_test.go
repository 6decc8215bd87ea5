package progress

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishWithoutSubscribersIsNoop(t *testing.T) {
	b := NewBroker()
	assert.NotPanics(t, func() { b.Publish(Event{Action: ActionShow, Message: "hi"}) })
	assert.Equal(t, 0, b.Subscribers())
}

func TestSubscribeReceivesAndCancel(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe(4)
	b.Publish(Event{Action: ActionUpdate, Current: 1, Total: 3, CountdownSeconds: Countdown(2)})

	e := <-ch
	assert.Equal(t, ActionUpdate, e.Action)
	require.NotNil(t, e.CountdownSeconds)
	assert.Equal(t, 2, *e.CountdownSeconds)

	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, b.Subscribers())
}

func TestPublishDropsForFullSubscriber(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe(1)
	defer cancel()

	b.Publish(Event{Message: "first"})
	b.Publish(Event{Message: "second"})

	assert.Equal(t, "first", (<-ch).Message)
	assert.Len(t, ch, 0)
}

type fakeRedis struct {
	channel  string
	payloads [][]byte
	err      error
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.channel = channel
	f.payloads = append(f.payloads, message.([]byte))
	cmd := redis.NewIntCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
	} else {
		cmd.SetVal(1)
	}
	return cmd
}

func TestRedisSinkForward(t *testing.T) {
	fr := &fakeRedis{}
	sink := NewRedisSink(fr, "", logrus.New())
	sink.Forward(context.Background(), Event{Action: ActionHide, Message: "done", Current: 3, Total: 3})

	assert.Equal(t, "blockctl:progress", fr.channel)
	require.Len(t, fr.payloads, 1)
	var e Event
	require.NoError(t, json.Unmarshal(fr.payloads[0], &e))
	assert.Equal(t, ActionHide, e.Action)
	assert.Nil(t, e.CountdownSeconds)

	fr.err = errors.New("connection refused")
	assert.NotPanics(t, func() { sink.Forward(context.Background(), Event{}) })
}

type fakeAMQP struct {
	mu        sync.Mutex
	exchanges []string
	msgs      []amqp.Publishing
	err       error
}

func (f *fakeAMQP) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchanges = append(f.exchanges, exchange)
	f.msgs = append(f.msgs, msg)
	return f.err
}

func (f *fakeAMQP) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func TestAMQPSinkForward(t *testing.T) {
	fa := &fakeAMQP{}
	sink := NewAMQPSink(fa, "blockctl.progress", "", logrus.New())
	sink.Forward(context.Background(), Event{Action: ActionUpdate, Current: 1, Total: 4, Message: "Muted bob"})

	require.Len(t, fa.msgs, 1)
	assert.Equal(t, "blockctl.progress", fa.exchanges[0])
	assert.Equal(t, "application/json", fa.msgs[0].ContentType)
	assert.Equal(t, "update", fa.msgs[0].Type)
	assert.JSONEq(t, `{"action":"update","current":1,"total":4,"message":"Muted bob"}`, string(fa.msgs[0].Body))
	assert.NoError(t, sink.Close())
}

func TestSinkRunRelaysUntilCancelled(t *testing.T) {
	b := NewBroker()
	fa := &fakeAMQP{}
	sink := NewAMQPSink(fa, "x", "", logrus.New())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sink.Run(ctx, b)
		close(done)
	}()

	require.Eventually(t, func() bool { return b.Subscribers() == 1 }, time.Second, time.Millisecond)
	b.Publish(Event{Action: ActionShow, Total: 2})
	require.Eventually(t, func() bool { return fa.count() == 1 }, time.Second, time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, 0, b.Subscribers())
}
