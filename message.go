// Package ltq implements a distributed task queue: producers enqueue named
// units of work to a shared broker, workers consume, execute, and acknowledge
// them, with retries, rate limiting, age-based rejection, cron dispatch, and
// middleware-based extensibility.
package ltq

import (
	"time"

	"github.com/google/uuid"
)

// Message is the immutable-after-send payload carrying task identity,
// arguments, and attempt context. ID and CreatedAt never mutate once the
// Message is built; Ctx may grow across retries and round-trips through the
// broker intact.
type Message struct {
	ID        string         `json:"id"`
	TaskName  string         `json:"task_name"`
	Args      []any          `json:"args"`
	Kwargs    map[string]any `json:"kwargs"`
	Ctx       map[string]any `json:"ctx"`
	CreatedAt time.Time      `json:"created_at"`

	// leasePayload is the exact wire form a Broker deserialized this Message
	// from at Consume time. It rides along unexported and unserialized so a
	// Broker's Ack/Nack can locate the in-flight entry it originally wrote,
	// independent of any Ctx mutation middleware made in between (e.g.
	// MaxTries incrementing Ctx["tries"] before Nack re-raises a retry).
	leasePayload []byte
}

// WithLeasePayload returns a copy of m carrying payload as its lease
// identity. Brokers call this right after deserializing a consumed Message
// so later Ack/Nack calls can remove the matching in-flight entry even if
// the caller mutated Ctx first.
func (m Message) WithLeasePayload(payload []byte) Message {
	m.leasePayload = payload
	return m
}

// LeasePayload returns the wire bytes set by WithLeasePayload, or nil if
// none was attached (e.g. a Message built directly in tests rather than
// returned from Broker.Consume).
func (m Message) LeasePayload() []byte {
	return m.leasePayload
}

// newMessage builds a fresh Message with a new ID, the current time, and an
// empty ctx. Used by Task.Send and Task.Message so both paths share identity
// assignment.
func newMessage(taskName string, args []any, kwargs map[string]any) Message {
	return Message{
		ID:        uuid.New().String(),
		TaskName:  taskName,
		Args:      args,
		Kwargs:    kwargs,
		Ctx:       make(map[string]any),
		CreatedAt: time.Now(),
	}
}

// Tries returns the message's current attempt count as tracked by the
// MaxTries middleware in Ctx["tries"]. Absent means zero.
func (m Message) Tries() int {
	v, ok := m.Ctx["tries"]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}
