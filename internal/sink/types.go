// Package sink forwards decoded characteristic values, session status changes
// and poll tick reports to external destinations (log, MQTT, InfluxDB).
//
// Producers on the event loop call a Publisher, which never blocks; a
// Dispatcher buffers records in a ring buffer and a worker goroutine hands
// them to every configured Sink.
package sink

import "time"

// Kind tells where a value came from.
type Kind string

const (
	KindNotification Kind = "notification" // notify or indicate
	KindChanged      Kind = "changed"      // cached value changed on a read-only characteristic
	KindRead         Kind = "read"         // completion of a read issued by the manager
)

// Value is one decoded characteristic value.
type Value struct {
	Address        string    `json:"address"`
	Service        string    `json:"service"`
	Characteristic string    `json:"characteristic"`
	Kind           Kind      `json:"kind"`
	Value          any       `json:"value"`
	Raw            []byte    `json:"raw"`
	DecodeError    string    `json:"decode_error,omitempty"`
	Time           time.Time `json:"time"`
}

// Status is the externally visible state of one tracked session.
type Status struct {
	Address    string    `json:"address"`
	State      string    `json:"state"`
	Name       string    `json:"name,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	Generation uint64    `json:"generation"`
	RSSI       *int16    `json:"rssi,omitempty"`
	Bound      int       `json:"bound"`
	Since      time.Time `json:"since"`
}

// Tick summarizes one health poll.
type Tick struct {
	Tick    uint64    `json:"tick"`
	Ready   int       `json:"ready"`
	Missing int       `json:"missing"`
	Failed  int       `json:"failed"`
	Issued  int       `json:"issued"`
	Time    time.Time `json:"time"`

	MissingAddresses []string `json:"missing_addresses,omitempty"`
	FailedAddresses  []string `json:"failed_addresses,omitempty"`
}

// Publisher accepts records from the event loop. Implementations must not block.
type Publisher interface {
	PublishValue(Value)
	PublishStatus(Status)
	PublishTick(Tick)
}

// Sink is a destination for records. Calls come from a single worker goroutine.
type Sink interface {
	Name() string
	WriteValue(Value) error
	WriteStatus(Status) error
	WriteTick(Tick) error
	Close() error
}

// Discard is a Publisher that drops everything.
var Discard Publisher = discard{}

type discard struct{}

func (discard) PublishValue(Value)   {}
func (discard) PublishStatus(Status) {}
func (discard) PublishTick(Tick)     {}
