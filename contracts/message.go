package contracts

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
)

var passwordKey = regexp.MustCompile(`(?i)password`)

// Message is the envelope carried by the bus. The exported fields may be
// set freely until the message is sent; the values map is guarded so that
// listeners on a parallel destination can read and write it concurrently.
type Message struct {
	DestinationName         string
	Payload                 any
	Response                any
	ResponseDestinationName string
	ResponseID              string

	mu     sync.RWMutex
	values map[string]any
}

// NewMessage creates a message with the given payload
func NewMessage(payload any) *Message {
	return &Message{Payload: payload}
}

// Put stores a value. A nil value removes the key.
func (m *Message) Put(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if value == nil {
		delete(m.values, key)
		return
	}
	if m.values == nil {
		m.values = make(map[string]any)
	}
	m.values[key] = value
}

// Get returns the value stored under key
func (m *Message) Get(key string) any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values[key]
}

// Contains reports whether key holds a value
func (m *Message) Contains(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.values[key]
	return ok
}

// Remove deletes key and returns the value it held
func (m *Message) Remove(key string) any {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.values[key]
	delete(m.values, key)
	return v
}

// Values returns a copy of the values map
func (m *Message) Values() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyValues(m.values)
}

// SetValues replaces the values map with a copy of values
func (m *Message) SetValues(values map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = copyValues(values)
}

// GetString returns the value under key formatted as a string, or "" when absent
func (m *Message) GetString(key string) string {
	switch v := m.Get(key).(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// GetInt64 returns the value under key as an int64, or 0 when absent or not numeric
func (m *Message) GetInt64(key string) int64 {
	switch v := m.Get(key).(type) {
	case int:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case uint:
		return int64(v)
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		return int64(v)
	case float32:
		return int64(v)
	case float64:
		return int64(v)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// GetInt returns the value under key as an int
func (m *Message) GetInt(key string) int {
	return int(m.GetInt64(key))
}

// GetFloat64 returns the value under key as a float64, or 0 when absent or not numeric
func (m *Message) GetFloat64(key string) float64 {
	switch v := m.Get(key).(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return f
	case nil:
		return 0
	default:
		return float64(m.GetInt64(key))
	}
}

// GetBool returns the value under key as a bool, or false when absent
func (m *Message) GetBool(key string) bool {
	switch v := m.Get(key).(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return err == nil && b
	default:
		return false
	}
}

// Clone returns a copy of the message with its own values map
func (m *Message) Clone() *Message {
	clone := &Message{}
	clone.CopyFrom(m)
	return clone
}

// CopyFrom overwrites every field of m with the fields of other
func (m *Message) CopyFrom(other *Message) {
	if other == nil || other == m {
		return
	}
	values := other.Values()

	m.DestinationName = other.DestinationName
	m.Payload = other.Payload
	m.Response = other.Response
	m.ResponseDestinationName = other.ResponseDestinationName
	m.ResponseID = other.ResponseID

	m.mu.Lock()
	m.values = values
	m.mu.Unlock()
}

// CopyTo overwrites every field of other with the fields of m
func (m *Message) CopyTo(other *Message) {
	if other == nil {
		return
	}
	other.CopyFrom(m)
}

// Equal compares every field. It is meant for tests and diagnostics.
func (m *Message) Equal(other *Message) bool {
	if m == nil || other == nil {
		return m == other
	}
	if m.DestinationName != other.DestinationName ||
		m.ResponseDestinationName != other.ResponseDestinationName ||
		m.ResponseID != other.ResponseID {
		return false
	}
	if !reflect.DeepEqual(m.Payload, other.Payload) || !reflect.DeepEqual(m.Response, other.Response) {
		return false
	}

	a, b := m.Values(), other.Values()
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		ov, ok := b[k]
		if !ok || !reflect.DeepEqual(v, ov) {
			return false
		}
	}
	return true
}

// String renders the message with password-like values masked
func (m *Message) String() string {
	values := m.Values()
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("{destinationName=")
	sb.WriteString(m.DestinationName)
	fmt.Fprintf(&sb, ", payload=%v", m.Payload)
	fmt.Fprintf(&sb, ", response=%v", m.Response)
	sb.WriteString(", responseDestinationName=")
	sb.WriteString(m.ResponseDestinationName)
	sb.WriteString(", responseId=")
	sb.WriteString(m.ResponseID)

	if len(keys) > 0 {
		sb.WriteString(", values={")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(k)
			sb.WriteString("=")
			if passwordKey.MatchString(k) {
				sb.WriteString("********")
			} else {
				fmt.Fprintf(&sb, "%v", values[k])
			}
		}
		sb.WriteString("}")
	}
	sb.WriteString("}")
	return sb.String()
}

func copyValues(values map[string]any) map[string]any {
	if len(values) == 0 {
		return nil
	}
	c := make(map[string]any, len(values))
	for k, v := range values {
		c[k] = v
	}
	return c
}
