package mmate

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/mmate-bus/contracts"
	"github.com/glimte/mmate-bus/health"
	"github.com/glimte/mmate-bus/messaging"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewClient(t *testing.T) {
	t.Run("registers default destinations", func(t *testing.T) {
		client, err := NewClientWithOptions(WithLogger(quietLogger()))
		require.NoError(t, err)
		defer client.Close()

		assert.True(t, client.Bus().HasDestination(contracts.DefaultResponseDestinationName))
		assert.True(t, client.Bus().HasDestination(contracts.MessageStatusDestinationName))
		assert.Equal(t, messaging.DefaultSynchronousTimeout, client.Bus().DefaultTimeout())
		assert.Equal(t, 2, client.Senders().ModesCount())
	})

	t.Run("without default destinations", func(t *testing.T) {
		client, err := NewClientWithOptions(WithLogger(quietLogger()), WithoutDefaultDestinations())
		require.NoError(t, err)
		defer client.Close()

		assert.Zero(t, client.Bus().DestinationCount())
	})

	t.Run("loads destinations from a config file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bus.yaml")
		require.NoError(t, os.WriteFile(path, []byte("timeoutMillis: 500\ndestinations:\n  - {name: orders, type: serial}\n"), 0o600))

		client, err := NewClientWithOptions(WithLogger(quietLogger()), WithConfigFile(path))
		require.NoError(t, err)
		defer client.Close()

		dest, ok := client.Bus().GetDestination("orders")
		require.True(t, ok)
		assert.Equal(t, contracts.DestinationTypeSerial, dest.Type())
		assert.Equal(t, 500*time.Millisecond, client.Bus().DefaultTimeout())
	})

	t.Run("explicit options override the config file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bus.toml")
		require.NoError(t, os.WriteFile(path, []byte("timeoutMillis = 500\n"), 0o600))

		client, err := NewClientWithOptions(WithLogger(quietLogger()), WithConfigFile(path), WithTimeout(time.Second))
		require.NoError(t, err)
		defer client.Close()

		assert.Equal(t, time.Second, client.Bus().DefaultTimeout())
	})

	t.Run("invalid config file fails", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bus.yaml")
		require.NoError(t, os.WriteFile(path, []byte("destinations:\n  - {name: orders, type: topic}\n"), 0o600))

		_, err := NewClientWithOptions(WithLogger(quietLogger()), WithConfigFile(path))
		assert.ErrorIs(t, err, contracts.ErrInvalidConfiguration)
	})
}

func TestClientRequestResponse(t *testing.T) {
	for _, mode := range []messaging.SenderMode{messaging.SenderModeDefault, messaging.SenderModeDirect} {
		t.Run(string(mode), func(t *testing.T) {
			client, err := NewClientWithOptions(WithLogger(quietLogger()), WithSenderMode(mode), WithTimeout(2*time.Second))
			require.NoError(t, err)
			defer client.Close()

			_, err = client.Bus().RegisterDestination(contracts.NewParallelDestinationConfiguration("prices"), nil)
			require.NoError(t, err)

			builders := client.Builders()
			require.NoError(t, client.Bus().AddMessageListener(contracts.MessageListenerFunc(func(ctx context.Context, msg *contracts.Message) error {
				if mode == messaging.SenderModeDirect {
					msg.Response = msg.Payload.(string) + ":42"
					return nil
				}
				return builders.CreateResponse(msg).SetPayload(msg.Payload.(string) + ":42").Send(ctx)
			}), contracts.NewProperties("prices")))

			response, err := builders.Create("prices").SetPayload("ACME").SendSynchronous(context.Background())
			require.NoError(t, err)
			assert.Equal(t, "ACME:42", response)
		})
	}
}

func TestClientHealth(t *testing.T) {
	client, err := NewClientWithOptions(WithLogger(quietLogger()))
	require.NoError(t, err)
	defer client.Close()

	report := client.Health().Check(context.Background())
	assert.Equal(t, health.StatusHealthy, report.Status)
	assert.Contains(t, report.Checks, "messagebus")
}
