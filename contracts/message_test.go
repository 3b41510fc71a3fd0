package contracts

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orderPlaced struct {
	OrderID string
	Amount  float64
	Lines   []string
}

func init() {
	RegisterType(orderPlaced{})
}

func TestMessageValues(t *testing.T) {
	t.Run("Put and Get", func(t *testing.T) {
		msg := NewMessage("hello")

		msg.Put("user", "alice")
		msg.Put("count", 3)

		assert.Equal(t, "alice", msg.Get("user"))
		assert.Equal(t, 3, msg.Get("count"))
		assert.True(t, msg.Contains("user"))
		assert.False(t, msg.Contains("missing"))
		assert.Nil(t, msg.Get("missing"))
	})

	t.Run("Put nil removes the key", func(t *testing.T) {
		msg := NewMessage(nil)
		msg.Put("key", "value")
		msg.Put("key", nil)

		assert.False(t, msg.Contains("key"))
		assert.Empty(t, msg.Values())
	})

	t.Run("Remove returns previous value", func(t *testing.T) {
		msg := NewMessage(nil)
		msg.Put("key", "value")

		assert.Equal(t, "value", msg.Remove("key"))
		assert.Nil(t, msg.Remove("key"))
	})

	t.Run("Values returns a copy", func(t *testing.T) {
		msg := NewMessage(nil)
		msg.Put("a", 1)

		values := msg.Values()
		values["b"] = 2

		assert.False(t, msg.Contains("b"))
	})

	t.Run("typed getters coerce", func(t *testing.T) {
		msg := NewMessage(nil)
		msg.Put("int", 42)
		msg.Put("intString", "17")
		msg.Put("float", 2.5)
		msg.Put("bool", true)
		msg.Put("boolString", "true")
		msg.Put("bad", "not a number")

		assert.Equal(t, 42, msg.GetInt("int"))
		assert.Equal(t, int64(17), msg.GetInt64("intString"))
		assert.Equal(t, 2.5, msg.GetFloat64("float"))
		assert.Equal(t, 42.0, msg.GetFloat64("int"))
		assert.True(t, msg.GetBool("bool"))
		assert.True(t, msg.GetBool("boolString"))
		assert.False(t, msg.GetBool("missing"))
		assert.Equal(t, 0, msg.GetInt("bad"))
		assert.Equal(t, "42", msg.GetString("int"))
		assert.Equal(t, "", msg.GetString("missing"))
	})
}

func TestMessageCopy(t *testing.T) {
	t.Run("Clone copies fields and isolates values", func(t *testing.T) {
		msg := &Message{
			DestinationName:         "orders",
			Payload:                 "payload",
			ResponseDestinationName: "replies",
			ResponseID:              "abc",
		}
		msg.Put("k", "v")

		clone := msg.Clone()
		assert.True(t, msg.Equal(clone))

		clone.Put("k", "changed")
		assert.Equal(t, "v", msg.Get("k"))
		assert.False(t, msg.Equal(clone))
	})

	t.Run("CopyTo overwrites target", func(t *testing.T) {
		src := &Message{DestinationName: "a", Payload: 1}
		dst := &Message{DestinationName: "b", Response: "old"}
		dst.Put("stale", true)

		src.CopyTo(dst)

		assert.Equal(t, "a", dst.DestinationName)
		assert.Equal(t, 1, dst.Payload)
		assert.Nil(t, dst.Response)
		assert.False(t, dst.Contains("stale"))
	})
}

func TestMessageString(t *testing.T) {
	msg := &Message{DestinationName: "auth", Payload: "login"}
	msg.Put("username", "bob")
	msg.Put("userPassword", "secret")

	s := msg.String()

	assert.Contains(t, s, "destinationName=auth")
	assert.Contains(t, s, "username=bob")
	assert.Contains(t, s, "userPassword=********")
	assert.NotContains(t, s, "secret")
}

func TestMessageSerialization(t *testing.T) {
	t.Run("round trip preserves all fields", func(t *testing.T) {
		msg := &Message{
			DestinationName:         "orders",
			Payload:                 orderPlaced{OrderID: "o-1", Amount: 9.5, Lines: []string{"a", "b"}},
			Response:                "accepted",
			ResponseDestinationName: "orders/replies",
			ResponseID:              "3f1c",
		}
		msg.Put("tenant", "acme")
		msg.Put("attempt", 2)

		data, err := msg.ToBytes()
		require.NoError(t, err)

		decoded, err := MessageFromBytes(data)
		require.NoError(t, err)

		assert.True(t, msg.Equal(decoded), "decoded %s", decoded)
	})

	t.Run("nil payload and empty values", func(t *testing.T) {
		msg := &Message{DestinationName: "empty"}

		data, err := msg.ToBytes()
		require.NoError(t, err)

		decoded, err := MessageFromBytes(data)
		require.NoError(t, err)
		assert.Nil(t, decoded.Payload)
		assert.Nil(t, decoded.Response)
		assert.Empty(t, decoded.Values())
		assert.True(t, msg.Equal(decoded))
	})

	t.Run("unencodable values are dropped", func(t *testing.T) {
		msg := NewMessage("payload")
		msg.Put("callback", func() {})
		msg.Put("kept", "yes")

		data, err := msg.ToBytes()
		require.NoError(t, err)

		decoded, err := MessageFromBytes(data)
		require.NoError(t, err)
		assert.False(t, decoded.Contains("callback"))
		assert.Equal(t, "yes", decoded.Get("kept"))
	})

	t.Run("unencodable payload fails", func(t *testing.T) {
		msg := NewMessage(make(chan int))

		_, err := msg.ToBytes()
		assert.True(t, errors.Is(err, ErrNotSerializable))
	})

	t.Run("empty slices decode as nil", func(t *testing.T) {
		msg := NewMessage([]string{})
		msg.Put("tags", []int{})

		data, err := msg.ToBytes()
		require.NoError(t, err)

		decoded, err := MessageFromBytes(data)
		require.NoError(t, err)
		assert.Nil(t, decoded.Payload.([]string))
		assert.Nil(t, decoded.Get("tags").([]int))
	})

	t.Run("value registration keeps value payloads", func(t *testing.T) {
		msg := NewMessage(orderPlaced{OrderID: "o-2"})

		data, err := msg.ToBytes()
		require.NoError(t, err)

		decoded, err := MessageFromBytes(data)
		require.NoError(t, err)
		assert.IsType(t, orderPlaced{}, decoded.Payload)
	})

	t.Run("garbage input fails", func(t *testing.T) {
		_, err := MessageFromBytes([]byte("not gob"))
		assert.Error(t, err)
	})
}
