package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/blimd/internal/codec"
)

const influxPingTimeout = 5 * time.Second

// ErrInfluxConnect is returned when InfluxDB cannot be reached at startup.
var ErrInfluxConnect = errors.New("influxdb connection failed")

// InfluxConfig configures the InfluxDB sink.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// InfluxSink writes numeric characteristic values, session status and poll
// reports as points through the non-blocking write API.
//
// Measurements:
//
//	ble_value    tags address, service, characteristic, kind; one float field per numeric value
//	ble_session  tags address, state; fields generation, bound, rssi
//	ble_poll     fields tick, ready, missing, failed, issued
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   logrus.FieldLogger
}

// NewInfluxSink connects, checks the server is healthy and starts forwarding
// asynchronous write errors to the log.
func NewInfluxSink(cfg InfluxConfig, logger logrus.FieldLogger) (*InfluxSink, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	ctx, cancel := context.WithTimeout(context.Background(), influxPingTimeout)
	defer cancel()
	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrInfluxConnect, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrInfluxConnect)
	}

	return newInfluxSink(client, client.WriteAPI(cfg.Org, cfg.Bucket), logger), nil
}

func newInfluxSink(client influxdb2.Client, writeAPI api.WriteAPI, logger logrus.FieldLogger) *InfluxSink {
	s := &InfluxSink{client: client, writeAPI: writeAPI, logger: logger.WithField("sink", "influxdb")}
	go s.handleWriteErrors(writeAPI.Errors())
	return s
}

func (s *InfluxSink) handleWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		s.logger.WithError(err).Warn("InfluxDB write failed")
	}
}

func (s *InfluxSink) Name() string { return "influxdb" }

// WriteValue writes the numeric parts of a value. Values without any numeric
// part (strings, undecodable payloads) are skipped.
func (s *InfluxSink) WriteValue(v Value) error {
	if v.DecodeError != "" {
		return nil
	}
	fields := numericFields(v.Value)
	if len(fields) == 0 {
		return nil
	}
	s.writeAPI.WritePoint(write.NewPoint(
		"ble_value",
		map[string]string{
			"address":        v.Address,
			"service":        v.Service,
			"characteristic": v.Characteristic,
			"kind":           string(v.Kind),
		},
		fields,
		v.Time,
	))
	return nil
}

func (s *InfluxSink) WriteStatus(st Status) error {
	fields := map[string]interface{}{
		"generation": int64(st.Generation),
		"bound":      int64(st.Bound),
	}
	if st.RSSI != nil {
		fields["rssi"] = int64(*st.RSSI)
	}
	s.writeAPI.WritePoint(write.NewPoint(
		"ble_session",
		map[string]string{"address": st.Address, "state": st.State},
		fields,
		st.Since,
	))
	return nil
}

func (s *InfluxSink) WriteTick(t Tick) error {
	s.writeAPI.WritePoint(write.NewPoint(
		"ble_poll",
		nil,
		map[string]interface{}{
			"tick":    int64(t.Tick),
			"ready":   int64(t.Ready),
			"missing": int64(t.Missing),
			"failed":  int64(t.Failed),
			"issued":  int64(t.Issued),
		},
		t.Time,
	))
	return nil
}

// Close flushes pending points and closes the client.
func (s *InfluxSink) Close() error {
	s.writeAPI.Flush()
	if s.client != nil {
		s.client.Close()
	}
	return nil
}

// numericFields flattens a decoded value into float fields: a scalar becomes
// "value", a tuple contributes one field per numeric member.
func numericFields(v any) map[string]interface{} {
	fields := make(map[string]interface{})
	if om, ok := v.(*orderedmap.OrderedMap[string, any]); ok {
		for pair := om.Oldest(); pair != nil; pair = pair.Next() {
			if f, ok := toFloat(pair.Value); ok {
				fields[pair.Key] = f
			}
		}
		return fields
	}
	if f, ok := toFloat(v); ok {
		fields["value"] = f
	}
	return fields
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case codec.Bitfield:
		return float64(n), true
	default:
		return 0, false
	}
}
