package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glimte/mmate-bus/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynchronousRoundTrip(t *testing.T) {
	configs := []contracts.DestinationConfiguration{
		contracts.NewSynchronousDestinationConfiguration("echo"),
		contracts.NewSerialDestinationConfiguration("echo"),
		contracts.NewParallelDestinationConfiguration("echo"),
	}

	for _, cfg := range configs {
		t.Run(string(cfg.Type), func(t *testing.T) {
			bus := newTestBus(t)
			_, err := bus.RegisterDestination(cfg, nil)
			require.NoError(t, err)
			require.NoError(t, bus.AddMessageListener(echoListener(bus), contracts.NewProperties("echo")))

			reply, err := bus.SendSynchronousMessageWithTimeout(context.Background(), "echo", contracts.NewMessage("ping"), 2*time.Second)

			require.NoError(t, err)
			assert.Equal(t, "ping", reply)

			responseDest, _ := bus.GetDestination(contracts.DefaultResponseDestinationName)
			assert.Equal(t, 0, responseDest.MessageListenerCount())
		})

		t.Run(string(cfg.Type)+" replying with the request", func(t *testing.T) {
			bus := newTestBus(t)
			_, err := bus.RegisterDestination(cfg, nil)
			require.NoError(t, err)
			builders := NewMessageBuilderFactory(bus)
			require.NoError(t, bus.AddMessageListener(contracts.MessageListenerFunc(func(ctx context.Context, msg *contracts.Message) error {
				return builders.CreateResponse(msg).SetPayload(msg).Send(ctx)
			}), contracts.NewProperties("echo")))

			request := contracts.NewMessage("ping")
			reply, err := bus.SendSynchronousMessageWithTimeout(context.Background(), "echo", request, 2*time.Second)

			require.NoError(t, err)
			assert.Same(t, request, reply)
		})
	}
}

func TestSynchronousSendEdgeCases(t *testing.T) {
	t.Run("missing destination returns nil", func(t *testing.T) {
		bus := newTestBus(t)

		reply, err := bus.SendSynchronousMessage(context.Background(), "missing", contracts.NewMessage("x"))
		assert.NoError(t, err)
		assert.Nil(t, reply)
	})

	t.Run("destination without listeners returns nil", func(t *testing.T) {
		bus := newTestBus(t)
		_, err := bus.RegisterDestination(contracts.NewParallelDestinationConfiguration("idle"), nil)
		require.NoError(t, err)

		reply, err := bus.SendSynchronousMessage(context.Background(), "idle", contracts.NewMessage("x"))
		assert.NoError(t, err)
		assert.Nil(t, reply)
	})

	t.Run("timeout fails and removes the waiting listener", func(t *testing.T) {
		bus := newTestBus(t)
		_, err := bus.RegisterDestination(contracts.NewParallelDestinationConfiguration("silent"), nil)
		require.NoError(t, err)
		require.NoError(t, bus.AddMessageListener(contracts.MessageListenerFunc(func(context.Context, *contracts.Message) error {
			return nil
		}), contracts.NewProperties("silent")))

		start := time.Now()
		reply, err := bus.SendSynchronousMessageWithTimeout(context.Background(), "silent", contracts.NewMessage("x"), 50*time.Millisecond)

		assert.Nil(t, reply)
		assert.ErrorIs(t, err, contracts.ErrNoReply)
		var busErr *contracts.MessageBusError
		assert.ErrorAs(t, err, &busErr)
		assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

		responseDest, _ := bus.GetDestination(contracts.DefaultResponseDestinationName)
		assert.False(t, responseDest.IsRegistered())
	})

	t.Run("context cancellation interrupts the wait", func(t *testing.T) {
		bus := newTestBus(t)
		_, err := bus.RegisterDestination(contracts.NewParallelDestinationConfiguration("slow"), nil)
		require.NoError(t, err)
		require.NoError(t, bus.AddMessageListener(contracts.MessageListenerFunc(func(context.Context, *contracts.Message) error {
			return nil
		}), contracts.NewProperties("slow")))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()

		_, err = bus.SendSynchronousMessageWithTimeout(ctx, "slow", contracts.NewMessage("x"), 10*time.Second)

		assert.ErrorIs(t, err, contracts.ErrInterrupted)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		responseDest, _ := bus.GetDestination(contracts.DefaultResponseDestinationName)
		assert.False(t, responseDest.IsRegistered())
	})

	t.Run("reply delivered during send wins over a zero timeout", func(t *testing.T) {
		bus := newTestBus(t)
		_, err := bus.RegisterDestination(contracts.NewSynchronousDestinationConfiguration("sync"), nil)
		require.NoError(t, err)
		require.NoError(t, bus.AddMessageListener(echoListener(bus), contracts.NewProperties("sync")))

		for i := 0; i < 200; i++ {
			reply, err := bus.SendSynchronousMessageWithTimeout(context.Background(), "sync", contracts.NewMessage("ping"), 0)
			require.NoError(t, err, "attempt %d", i)
			require.Equal(t, "ping", reply)
		}
	})

	t.Run("reply delivered during send wins over a cancelled context", func(t *testing.T) {
		bus := newTestBus(t)
		_, err := bus.RegisterDestination(contracts.NewSynchronousDestinationConfiguration("sync"), nil)
		require.NoError(t, err)
		require.NoError(t, bus.AddMessageListener(echoListener(bus), contracts.NewProperties("sync")))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		for i := 0; i < 200; i++ {
			reply, err := bus.SendSynchronousMessageWithTimeout(ctx, "sync", contracts.NewMessage("ping"), time.Second)
			require.NoError(t, err, "attempt %d", i)
			require.Equal(t, "ping", reply)
		}
	})

	t.Run("unknown response destination falls back to the default", func(t *testing.T) {
		bus := newTestBus(t)
		_, err := bus.RegisterDestination(contracts.NewSynchronousDestinationConfiguration("echo"), nil)
		require.NoError(t, err)
		require.NoError(t, bus.AddMessageListener(echoListener(bus), contracts.NewProperties("echo")))

		msg := contracts.NewMessage("ping")
		msg.ResponseDestinationName = "does/not/exist"

		reply, err := bus.SendSynchronousMessageWithTimeout(context.Background(), "echo", msg, time.Second)
		require.NoError(t, err)
		assert.Equal(t, "ping", reply)
		assert.Equal(t, contracts.DefaultResponseDestinationName, msg.ResponseDestinationName)
		assert.NotEmpty(t, msg.ResponseID)
	})

	t.Run("custom response destination", func(t *testing.T) {
		bus := newTestBus(t)
		_, err := bus.RegisterDestination(contracts.NewSynchronousDestinationConfiguration("echo"), nil)
		require.NoError(t, err)
		_, err = bus.RegisterDestination(contracts.NewParallelDestinationConfiguration("echo/replies"), nil)
		require.NoError(t, err)
		require.NoError(t, bus.AddMessageListener(echoListener(bus), contracts.NewProperties("echo")))

		reply, err := bus.SendSynchronousPayload(context.Background(), "echo", "pong", "echo/replies")
		require.NoError(t, err)
		assert.Equal(t, "pong", reply)
	})

	t.Run("replies for other requests are ignored", func(t *testing.T) {
		bus := newTestBus(t)
		_, err := bus.RegisterDestination(contracts.NewSynchronousDestinationConfiguration("confused"), nil)
		require.NoError(t, err)

		builders := NewMessageBuilderFactory(bus)
		require.NoError(t, bus.AddMessageListener(contracts.MessageListenerFunc(func(ctx context.Context, msg *contracts.Message) error {
			return builders.CreateResponse(msg).SetResponseID("someone-else").SetPayload("wrong").Send(ctx)
		}), contracts.NewProperties("confused")))

		reply, err := bus.SendSynchronousMessageWithTimeout(context.Background(), "confused", contracts.NewMessage("x"), 50*time.Millisecond)
		assert.Nil(t, reply)
		assert.ErrorIs(t, err, contracts.ErrNoReply)
	})

	t.Run("no sender factory", func(t *testing.T) {
		bus := NewMessageBus(WithBusLogger(discardLogger()))
		defer bus.Close()

		_, err := bus.SendSynchronousMessage(context.Background(), "any", contracts.NewMessage("x"))
		assert.ErrorIs(t, err, contracts.ErrNoSynchronousSender)
	})

	t.Run("no sender for mode", func(t *testing.T) {
		bus := newTestBus(t)
		bus.SenderFactory().UnregisterSender(SenderModeDefault)

		_, err := bus.SendSynchronousMessage(context.Background(), "any", contracts.NewMessage("x"))
		assert.ErrorIs(t, err, contracts.ErrNoSynchronousSender)
		assert.Equal(t, 1, bus.SenderFactory().ModesCount())
	})

	t.Run("concurrent requests are correlated independently", func(t *testing.T) {
		bus := newTestBus(t)
		_, err := bus.RegisterDestination(contracts.NewParallelDestinationConfiguration("echo"), nil)
		require.NoError(t, err)
		require.NoError(t, bus.AddMessageListener(echoListener(bus), contracts.NewProperties("echo")))

		const n = 20
		results := make(chan error, n)
		for i := 0; i < n; i++ {
			go func(i int) {
				reply, err := bus.SendSynchronousMessageWithTimeout(context.Background(), "echo", contracts.NewMessage(i), 2*time.Second)
				if err == nil && reply != i {
					err = errors.New("mismatched reply")
				}
				results <- err
			}(i)
		}
		for i := 0; i < n; i++ {
			assert.NoError(t, <-results)
		}
	})
}

func TestDirectSynchronousSender(t *testing.T) {
	responder := contracts.MessageListenerFunc(func(_ context.Context, msg *contracts.Message) error {
		msg.Response = "handled:" + msg.Payload.(string)
		return nil
	})

	t.Run("returns the response set by listeners", func(t *testing.T) {
		for _, cfg := range []contracts.DestinationConfiguration{
			contracts.NewSynchronousDestinationConfiguration("direct"),
			contracts.NewParallelDestinationConfiguration("direct"),
		} {
			bus := newTestBus(t, WithSynchronousSenderMode(SenderModeDirect))
			_, err := bus.RegisterDestination(cfg, nil)
			require.NoError(t, err)
			require.NoError(t, bus.AddMessageListener(responder, contracts.NewProperties("direct")))

			reply, err := bus.SendSynchronousMessageWithTimeout(context.Background(), "direct", contracts.NewMessage("job"), time.Millisecond)
			require.NoError(t, err)
			assert.Equal(t, "handled:job", reply)
		}
	})

	t.Run("listener error is raised for non synchronous destinations", func(t *testing.T) {
		bus := newTestBus(t, WithSynchronousSenderMode(SenderModeDirect))
		_, err := bus.RegisterDestination(contracts.NewSerialDestinationConfiguration("direct"), nil)
		require.NoError(t, err)

		boom := errors.New("boom")
		require.NoError(t, bus.AddMessageListener(contracts.MessageListenerFunc(func(context.Context, *contracts.Message) error {
			return boom
		}), contracts.NewProperties("direct")))

		_, err = bus.SendSynchronousMessage(context.Background(), "direct", contracts.NewMessage("job"))
		assert.ErrorIs(t, err, boom)
		var listenerErr *contracts.ListenerError
		assert.ErrorAs(t, err, &listenerErr)
	})

	t.Run("missing destination returns nil", func(t *testing.T) {
		bus := newTestBus(t, WithSynchronousSenderMode(SenderModeDirect))

		reply, err := bus.SendSynchronousMessage(context.Background(), "missing", contracts.NewMessage("job"))
		assert.NoError(t, err)
		assert.Nil(t, reply)
	})
}

func TestSenderFactory(t *testing.T) {
	bus := newTestBus(t)
	factory := bus.SenderFactory()

	assert.Equal(t, 2, factory.ModesCount())
	assert.IsType(t, &DefaultSynchronousMessageSender{}, factory.Sender(SenderModeDefault))
	assert.IsType(t, &DirectSynchronousMessageSender{}, factory.Sender(SenderModeDirect))

	t.Run("single destination senders are cached", func(t *testing.T) {
		a := factory.SingleDestinationSender("orders")
		b := factory.SingleDestinationSender("orders")
		assert.Same(t, a, b)
		assert.Equal(t, "orders", a.DestinationName())

		s1, err := factory.SingleDestinationSynchronousSender("orders", SenderModeDefault)
		require.NoError(t, err)
		s2, err := factory.SingleDestinationSynchronousSender("orders", SenderModeDefault)
		require.NoError(t, err)
		assert.Same(t, s1, s2)

		_, err = factory.SingleDestinationSynchronousSender("orders", SenderMode("BOGUS"))
		assert.ErrorIs(t, err, contracts.ErrNoSynchronousSender)
	})

	t.Run("single destination senders deliver", func(t *testing.T) {
		_, err := bus.RegisterDestination(contracts.NewSynchronousDestinationConfiguration("single"), nil)
		require.NoError(t, err)
		require.NoError(t, bus.AddMessageListener(echoListener(bus), contracts.NewProperties("single")))

		require.NoError(t, factory.SingleDestinationSender("single").SendPayload(context.Background(), "fire"))

		syncSender, err := factory.SingleDestinationSynchronousSender("single", SenderModeDefault)
		require.NoError(t, err)
		reply, err := syncSender.SendPayload(context.Background(), "ask")
		require.NoError(t, err)
		assert.Equal(t, "ask", reply)
	})

	t.Run("parse sender mode", func(t *testing.T) {
		mode, err := ParseSenderMode("direct")
		require.NoError(t, err)
		assert.Equal(t, SenderModeDirect, mode)

		mode, err = ParseSenderMode("")
		require.NoError(t, err)
		assert.Equal(t, SenderModeDefault, mode)

		_, err = ParseSenderMode("async")
		assert.ErrorIs(t, err, contracts.ErrInvalidConfiguration)
	})
}

func TestMessageBuilder(t *testing.T) {
	bus := newTestBus(t)
	builders := NewMessageBuilderFactory(bus)

	t.Run("build sets every field", func(t *testing.T) {
		msg := builders.Create("orders").
			SetPayload("p").
			SetResponse("r").
			SetResponseDestinationName("replies").
			SetResponseID("id-1").
			SetValues(map[string]any{"a": 1}).
			Put("b", 2).
			Build()

		assert.Equal(t, "orders", msg.DestinationName)
		assert.Equal(t, "p", msg.Payload)
		assert.Equal(t, "r", msg.Response)
		assert.Equal(t, "replies", msg.ResponseDestinationName)
		assert.Equal(t, "id-1", msg.ResponseID)
		assert.Equal(t, map[string]any{"a": 1, "b": 2}, msg.Values())
	})

	t.Run("create response targets the response destination", func(t *testing.T) {
		request := &contracts.Message{ResponseDestinationName: "replies", ResponseID: "corr"}
		reply := builders.CreateResponse(request).Build()

		assert.Equal(t, "replies", reply.DestinationName)
		assert.Equal(t, "corr", reply.ResponseID)
	})

	t.Run("send requires a destination", func(t *testing.T) {
		assert.ErrorIs(t, builders.Create("").Send(context.Background()), contracts.ErrMissingDestinationName)
		_, err := builders.Create("").SendSynchronous(context.Background())
		assert.ErrorIs(t, err, contracts.ErrMissingDestinationName)
	})

	t.Run("send synchronous round trip", func(t *testing.T) {
		_, err := bus.RegisterDestination(contracts.NewSerialDestinationConfiguration("built"), nil)
		require.NoError(t, err)
		require.NoError(t, bus.AddMessageListener(echoListener(bus), contracts.NewProperties("built")))

		reply, err := builders.Create("built").SetPayload("hello").SendSynchronousWithTimeout(context.Background(), time.Second)
		require.NoError(t, err)
		assert.Equal(t, "hello", reply)
	})
}
