package sink

import (
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/blimd/internal/codec"
	"github.com/srg/blimd/internal/testutils"
)

type fakeWriteAPI struct {
	api.WriteAPI
	points  []*write.Point
	errs    chan error
	flushed bool
}

func newFakeWriteAPI() *fakeWriteAPI {
	return &fakeWriteAPI{errs: make(chan error)}
}

func (f *fakeWriteAPI) WritePoint(p *write.Point) { f.points = append(f.points, p) }
func (f *fakeWriteAPI) Flush()                    { f.flushed = true }
func (f *fakeWriteAPI) Errors() <-chan error      { return f.errs }

func tags(p *write.Point) map[string]string {
	out := make(map[string]string)
	for _, t := range p.TagList() {
		out[t.Key] = t.Value
	}
	return out
}

func fields(p *write.Point) map[string]any {
	out := make(map[string]any)
	for _, f := range p.FieldList() {
		out[f.Key] = f.Value
	}
	return out
}

func TestInfluxSinkValues(t *testing.T) {
	logger, _ := testutils.NewTestLogger()
	wapi := newFakeWriteAPI()
	sk := newInfluxSink(nil, wapi, logger)
	ts := time.Unix(1700000000, 0)

	tuple := orderedmap.New[string, any]()
	tuple.Set("level", uint8(85))
	tuple.Set("state", codec.Bitfield(2))

	require.NoError(t, sk.WriteValue(Value{
		Address: "AA:BB:CC:DD:EE:FF", Service: "hgp_battery", Characteristic: "battery_level_state",
		Kind: KindNotification, Value: tuple, Time: ts,
	}))
	require.NoError(t, sk.WriteValue(Value{
		Address: "AA:BB:CC:DD:EE:FF", Service: "hgp_control", Characteristic: "sample_interval",
		Kind: KindRead, Value: uint16(300), Time: ts,
	}))
	require.NoError(t, sk.WriteValue(Value{
		Address: "AA:BB:CC:DD:EE:FF", Service: "device_information", Characteristic: "model_number_string",
		Kind: KindRead, Value: "HGP-1", Time: ts,
	}))
	require.NoError(t, sk.WriteValue(Value{
		Address: "AA:BB:CC:DD:EE:FF", Service: "hgp_battery", Characteristic: "battery_level_state",
		Kind: KindNotification, Raw: []byte{0x01}, DecodeError: "short payload", Time: ts,
	}))

	require.Len(t, wapi.points, 2, "string and undecodable values MUST be skipped")

	p := wapi.points[0]
	assert.Equal(t, "ble_value", p.Name())
	assert.Equal(t, map[string]string{
		"address":        "AA:BB:CC:DD:EE:FF",
		"service":        "hgp_battery",
		"characteristic": "battery_level_state",
		"kind":           "notification",
	}, tags(p))
	assert.Equal(t, map[string]any{"level": 85.0, "state": 2.0}, fields(p))
	assert.Equal(t, ts, p.Time())

	assert.Equal(t, map[string]any{"value": 300.0}, fields(wapi.points[1]), "scalar values MUST use the value field")
}

func TestInfluxSinkStatusAndTick(t *testing.T) {
	logger, _ := testutils.NewTestLogger()
	wapi := newFakeWriteAPI()
	sk := newInfluxSink(nil, wapi, logger)

	rssi := int16(-60)
	require.NoError(t, sk.WriteStatus(Status{Address: "AA:BB:CC:DD:EE:FF", State: "READY", Generation: 3, Bound: 7, RSSI: &rssi}))
	require.NoError(t, sk.WriteStatus(Status{Address: "AA:BB:CC:DD:EE:FF", State: "CONNECTING", Generation: 4}))
	require.NoError(t, sk.WriteTick(Tick{Tick: 5, Ready: 1, Missing: 1, Issued: 2}))

	require.Len(t, wapi.points, 3)
	assert.Equal(t, "ble_session", wapi.points[0].Name())
	assert.Equal(t, map[string]string{"address": "AA:BB:CC:DD:EE:FF", "state": "READY"}, tags(wapi.points[0]))
	assert.Equal(t, map[string]any{"generation": int64(3), "bound": int64(7), "rssi": int64(-60)}, fields(wapi.points[0]))
	assert.NotContains(t, fields(wapi.points[1]), "rssi", "unknown RSSI MUST NOT be written")

	assert.Equal(t, "ble_poll", wapi.points[2].Name())
	assert.Equal(t, map[string]any{
		"tick": int64(5), "ready": int64(1), "missing": int64(1), "failed": int64(0), "issued": int64(2),
	}, fields(wapi.points[2]))

	require.NoError(t, sk.Close())
	assert.True(t, wapi.flushed, "Close MUST flush pending points")
}
