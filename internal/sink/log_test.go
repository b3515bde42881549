package sink

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/blimd/internal/codec"
	"github.com/srg/blimd/internal/testutils"
)

func TestLogSink(t *testing.T) {
	logger, hook := testutils.NewTestLogger()
	sk := NewLogSink(logger, logrus.DebugLevel)

	tuple := orderedmap.New[string, any]()
	tuple.Set("level", uint8(85))
	tuple.Set("state", codec.Bitfield(2))
	require.NoError(t, sk.WriteValue(Value{
		Address: "AA:BB:CC:DD:EE:FF", Service: "hgp_battery", Characteristic: "battery_level_state",
		Kind: KindNotification, Value: tuple,
	}))
	require.NoError(t, sk.WriteValue(Value{
		Address: "AA:BB:CC:DD:EE:FF", Service: "hgp_battery", Characteristic: "battery_level_state",
		Kind: KindNotification, DecodeError: "short payload",
	}))
	rssi := int16(-71)
	require.NoError(t, sk.WriteStatus(Status{Address: "AA:BB:CC:DD:EE:FF", State: "DEGRADED", LastError: "bind failed", RSSI: &rssi}))
	require.NoError(t, sk.WriteTick(Tick{Tick: 2, Ready: 1, Issued: 2}))

	testutils.NewTextAsserter(t).Assert(
		testutils.Transcript(hook, logrus.DebugLevel, "kind", "value", "decode_error", "state", "last_error", "rssi", "tick"),
		`debug Value kind=notification value={level=85 state=0b00000010}
debug Value kind=notification value=<nil> decode_error=short payload
info Session status state=DEGRADED last_error=bind failed rssi=-71
debug Poll report tick=2
`)
	assert.NoError(t, sk.Close())
}
