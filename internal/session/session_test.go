package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/suite"

	"github.com/srg/blimd/internal/codec"
	"github.com/srg/blimd/internal/device"
	"github.com/srg/blimd/internal/schema"
	"github.com/srg/blimd/internal/sink"
	"github.com/srg/blimd/internal/testutils"
)

const testAddress = "C8:7A:9C:00:11:22"

// recordingPublisher keeps everything published to it.
type recordingPublisher struct {
	mu       sync.Mutex
	values   []sink.Value
	statuses []sink.Status
	ticks    []sink.Tick
}

func (p *recordingPublisher) PublishValue(v sink.Value) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values = append(p.values, v)
}

func (p *recordingPublisher) PublishStatus(st sink.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, st)
}

func (p *recordingPublisher) PublishTick(t sink.Tick) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ticks = append(p.ticks, t)
}

func (p *recordingPublisher) valuesOf(kind sink.Kind) []sink.Value {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []sink.Value
	for _, v := range p.values {
		if v.Kind == kind {
			out = append(out, v)
		}
	}
	return out
}

func (p *recordingPublisher) states() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.statuses))
	for i, st := range p.statuses {
		out[i] = st.State
	}
	return out
}

type SessionTestSuite struct {
	suite.Suite

	logger    *logrus.Logger
	hook      *test.Hook
	exec      *testutils.ManualExecutor
	adapter   *testutils.FakeAdapter
	dev       *testutils.FakeDevice
	publisher *recordingPublisher
	binder    *schema.Binder
	sess      *Session
	changes   int
}

func (s *SessionTestSuite) SetupTest() {
	s.logger, s.hook = testutils.NewTestLogger()
	s.exec = testutils.NewManualExecutor()
	s.adapter = testutils.NewFakeAdapter()
	s.dev = testutils.NewFakeDeviceFromJSON(testutils.HGPPeripheralJSON, testAddress)
	s.adapter.SeedDevice(s.dev)
	s.publisher = &recordingPublisher{}
	s.changes = 0

	binder, err := schema.NewBinder(schema.Default(), codec.NewRegistry(), s.logger)
	s.Require().NoError(err)
	s.binder = binder
	s.sess = s.newSession(true)
}

func (s *SessionTestSuite) newSession(initialRead bool) *Session {
	return New(Config{
		Address:     testAddress,
		Binder:      s.binder,
		Executor:    s.exec,
		Publisher:   s.publisher,
		Logger:      s.logger,
		InitialRead: initialRead,
		OnChange:    func(*Session) { s.changes++ },
		Now:         func() time.Time { return time.Unix(1700000000, 0) },
	})
}

// discover hands dev to the session and, as the reconciler does, routes the
// device's property changes through the loop.
func (s *SessionTestSuite) discover(dev *testutils.FakeDevice) {
	if s.sess.Discovered(dev) {
		s.adapter.OnDevicePropertiesChanged(dev, func(pc device.PropertyChange) {
			s.exec.Post(func() { s.sess.HandleChange(pc) })
		})
	}
	s.exec.Drain()
}

func (s *SessionTestSuite) makeReady() {
	s.discover(s.dev)
	s.dev.CompleteConnect(true)
	s.exec.Drain()
	s.Require().Equal(Ready, s.sess.State(), "session MUST be READY before the scenario starts")
}

func (s *SessionTestSuite) char(svc, ch string) *testutils.FakeCharacteristic {
	c := s.dev.Characteristic(svc, ch)
	s.Require().NotNil(c, "fake characteristic %s/%s MUST exist", svc, ch)
	return c
}

func (s *SessionTestSuite) TestDiscoveryToReady() {
	// GOAL: Verify the happy path from discovery to READY including subscriptions and the initial read
	//
	// TEST SCENARIO: discovered → CONNECTING → link up → services resolved → bind → READY → 5 initial reads → 3 notify subscriptions
	s.makeReady()

	s.Assert().Equal(1, s.dev.ConnectCalls, "exactly one connect MUST be issued")
	s.Assert().Equal([]string{"DISCOVERED", "CONNECTING", "CONNECTED", "RESOLVING", "READY"}, s.publisher.states())
	s.Assert().NoError(s.sess.LastError())
	s.Assert().NotNil(s.sess.Tree())
	s.Assert().Equal(7, s.sess.Status().Bound)

	expected := `
info Device discovered
info Connecting
info Connected
info Services resolved
info Device ready
info Read value: "HGP-1"
info Read value: "1.4.2"
info Read value: "ACME"
info Read value: {level=85 state=0b00000010}
info Read value: 300
`
	testutils.NewTextAsserter(s.T()).Assert(testutils.Transcript(s.hook, logrus.InfoLevel), expected)

	reads := s.publisher.valuesOf(sink.KindRead)
	s.Require().Len(reads, 5)
	s.Assert().Equal("device_information", reads[1].Service)
	s.Assert().Equal("software_revision_string", reads[1].Characteristic)
	s.Assert().Equal("1.4.2", reads[1].Value)
	s.Assert().Equal(testAddress, reads[1].Address)

	s.Assert().Equal(1, s.char("1abe0020-f938-452d-ad9e-76ee1b548e51", "2a1b").StartNotifyCalls)
	s.Assert().Equal(1, s.char("1abe0030-f938-452d-ad9e-76ee1b548e51", "1abe0036-f938-452d-ad9e-76ee1b548e51").StartNotifyCalls)
	s.Assert().Equal(1, s.char("1abe0030-f938-452d-ad9e-76ee1b548e51", "1abe0034-f938-452d-ad9e-76ee1b548e51").StartNotifyCalls)
	s.Assert().Equal(1, s.char("180a", "2a28").CallbackCount(), "read-only characteristic MUST be watched for value changes")
}

func (s *SessionTestSuite) TestValueDelivery() {
	// GOAL: Verify notifications and value changes are decoded and published with the right kind
	//
	// TEST SCENARIO: READY → notify rotation_value → KindNotification; change software revision → KindChanged; garbage → decode error kept
	s.makeReady()

	s.char("1abe0030-f938-452d-ad9e-76ee1b548e51", "1abe0036-f938-452d-ad9e-76ee1b548e51").Notify([]byte{7})
	s.char("180a", "2a28").Notify([]byte("1.5.0"))
	s.char("1abe0020-f938-452d-ad9e-76ee1b548e51", "1abe0022-f938-452d-ad9e-76ee1b548e51").Notify([]byte{1})
	s.exec.Drain()

	notes := s.publisher.valuesOf(sink.KindNotification)
	s.Require().Len(notes, 1)
	s.Assert().Equal("rotation_value", notes[0].Characteristic)
	s.Assert().Equal(uint8(7), notes[0].Value)

	changed := s.publisher.valuesOf(sink.KindChanged)
	s.Require().Len(changed, 2)
	s.Assert().Equal("1.5.0", changed[0].Value)
	s.Assert().Equal("battery_charging_time", changed[1].Characteristic)
	s.Assert().NotEmpty(changed[1].DecodeError, "short uint16 payload MUST carry a decode error")
	s.Assert().Equal([]byte{1}, changed[1].Raw)

	s.Assert().Contains(testutils.Messages(s.hook, logrus.InfoLevel), "Notification: 7")
	s.Assert().Contains(testutils.Messages(s.hook, logrus.InfoLevel), `Changed value: "1.5.0"`)
	s.Assert().Equal(Ready, s.sess.State(), "undecodable values MUST NOT change state")
}

func (s *SessionTestSuite) TestInitialReadDisabled() {
	s.sess = s.newSession(false)
	s.makeReady()

	s.Assert().Empty(s.publisher.valuesOf(sink.KindRead))
	s.Assert().Equal(0, s.char("180a", "2a28").Reads)
}

func (s *SessionTestSuite) TestAlreadyConnected() {
	// GOAL: Verify a handle that is already connected and resolved skips the connect request
	//
	// TEST SCENARIO: connected+resolved device → Discovered → no ConnectAsync → READY
	dev := testutils.NewFakeDeviceFromJSON(testutils.HGPPeripheralJSON, testAddress)
	dev.SetLinkState(true, true)
	s.adapter.SeedDevice(dev)

	s.discover(dev)

	s.Assert().Equal(0, dev.ConnectCalls, "connected device MUST NOT be connected again")
	s.Assert().Equal(Ready, s.sess.State())
	s.Assert().Contains(testutils.Messages(s.hook, logrus.InfoLevel), "Device already connected")

	s.Run("connected but unresolved stops at CONNECTED", func() {
		s.SetupTest()
		dev := testutils.NewFakeDeviceFromJSON(testutils.HGPPeripheralJSON, testAddress)
		dev.SetLinkState(true, false)
		s.discover(dev)
		s.Assert().Equal(Connected, s.sess.State())
		s.Assert().Equal(0, dev.ConnectCalls)
	})
}

func (s *SessionTestSuite) TestConnectFailure() {
	// GOAL: Verify a failed connect returns the session to DISCOVERED with a transport error and no immediate retry
	//
	// TEST SCENARIO: discovered → connect fails → DISCOVERED, lastErr=TransportError → no second connect
	s.discover(s.dev)
	s.Require().Equal(Connecting, s.sess.State())

	s.dev.FailConnect(errors.New("le-connection-abort-by-local"))
	s.exec.Drain()

	s.Assert().Equal(Discovered, s.sess.State())
	var te *device.TransportError
	s.Require().ErrorAs(s.sess.LastError(), &te)
	s.Assert().Equal("connect", te.Op)
	s.Assert().Equal(1, s.dev.ConnectCalls, "a failed connect MUST NOT be retried immediately")
	s.Assert().Contains(testutils.Messages(s.hook, logrus.WarnLevel), "Connect failed")

	s.Run("timeout is normalized", func() {
		s.SetupTest()
		s.discover(s.dev)
		s.dev.FailConnect(errors.New("Operation timed out"))
		s.exec.Drain()
		s.Assert().ErrorIs(s.sess.LastError(), device.ErrTimeout)
	})
}

func (s *SessionTestSuite) TestLateConnectFailureIsStale() {
	// GOAL: Verify a connect failure that arrives after the link came up is discarded
	//
	// TEST SCENARIO: CONNECTING → Connected=true → pending onFail fires → still CONNECTED, no error recorded
	s.discover(s.dev)
	s.adapter.EmitChange(s.dev, device.PropertyChange{Connected: device.Bool(true)})
	s.exec.Drain()
	s.Require().Equal(Connected, s.sess.State())
	s.Require().True(s.dev.HasPendingConnect())

	s.dev.FailConnect(errors.New("late"))
	s.exec.Drain()

	s.Assert().Equal(Connected, s.sess.State(), "late connect failure MUST be discarded")
	s.Assert().NoError(s.sess.LastError())
	s.Assert().Contains(testutils.Messages(s.hook, logrus.DebugLevel), "Discarding connect failure")
}

func (s *SessionTestSuite) TestDisconnect() {
	// GOAL: Verify a disconnect batch releases the tree, keeps the handle and invalidates old callbacks
	//
	// TEST SCENARIO: READY → {Connected=false ServicesResolved=false} → DISCOVERED, gen+1 → old notification discarded
	s.makeReady()
	gen := s.sess.Generation()
	before := len(s.publisher.valuesOf(sink.KindNotification))

	s.adapter.EmitChange(s.dev, device.PropertyChange{
		Connected:        device.Bool(false),
		ServicesResolved: device.Bool(false),
	})
	s.exec.Drain()

	s.Assert().Equal(Discovered, s.sess.State())
	s.Assert().Nil(s.sess.Tree())
	s.Assert().True(s.sess.HasHandle(), "disconnect MUST keep the device handle")
	s.Assert().Equal(gen+1, s.sess.Generation(), "release MUST bump the generation exactly once")
	s.Assert().Equal(1, s.dev.ConnectCalls, "disconnect alone MUST NOT reconnect")

	s.char("1abe0030-f938-452d-ad9e-76ee1b548e51", "1abe0036-f938-452d-ad9e-76ee1b548e51").Notify([]byte{9})
	s.exec.Drain()
	s.Assert().Len(s.publisher.valuesOf(sink.KindNotification), before, "notification from a released tree MUST NOT be published")
	s.Assert().Contains(testutils.Messages(s.hook, logrus.DebugLevel), "Discarding stale value")
}

func (s *SessionTestSuite) TestStaleReadAfterDisconnect() {
	// GOAL: Verify a read completing after the session moved on is discarded
	//
	// TEST SCENARIO: READY → held read issued → disconnect → read completes → nothing published
	s.makeReady()
	c := s.char("180a", "2a28")
	c.HoldReads = true
	s.Require().NoError(s.sess.Read("device_information", "software_revision_string"))

	s.adapter.EmitChange(s.dev, device.PropertyChange{Connected: device.Bool(false)})
	s.exec.Drain()
	readsBefore := len(s.publisher.valuesOf(sink.KindRead))

	c.ReleaseReads()
	s.exec.Drain()

	s.Assert().Len(s.publisher.valuesOf(sink.KindRead), readsBefore)
	s.Assert().Contains(testutils.Messages(s.hook, logrus.DebugLevel), "Discarding stale read")
}

func (s *SessionTestSuite) TestServicesUnresolved() {
	// GOAL: Verify losing resolved services while the link stays up drops back to CONNECTED and rebinds later
	//
	// TEST SCENARIO: READY → ServicesResolved=false → CONNECTED, tree released → ServicesResolved=true → READY again
	s.makeReady()
	gen := s.sess.Generation()

	s.adapter.EmitChange(s.dev, device.PropertyChange{ServicesResolved: device.Bool(false)})
	s.exec.Drain()
	s.Assert().Equal(Connected, s.sess.State())
	s.Assert().Nil(s.sess.Tree())
	s.Assert().Equal(gen+1, s.sess.Generation())

	s.adapter.EmitChange(s.dev, device.PropertyChange{ServicesResolved: device.Bool(true)})
	s.exec.Drain()
	s.Assert().Equal(Ready, s.sess.State())
	s.Assert().Equal(2, s.dev.ServicesCalls, "services MUST be bound again")
}

func (s *SessionTestSuite) TestBatchOrdering() {
	// GOAL: Verify Connected is applied before ServicesResolved in one batch
	//
	// TEST SCENARIO: CONNECTING → {Connected=true ServicesResolved=true} → READY
	s.discover(s.dev)
	s.adapter.EmitChange(s.dev, device.PropertyChange{
		Connected:        device.Bool(true),
		ServicesResolved: device.Bool(true),
	})
	s.exec.Drain()
	s.Assert().Equal(Ready, s.sess.State())
}

func (s *SessionTestSuite) TestBindFailure() {
	// GOAL: Verify a device missing required entries ends DEGRADED with the handle kept and can rebind
	//
	// TEST SCENARIO: device without battery service → DEGRADED + SchemaBindError → services re-resolve on a fixed device → READY
	dev := testutils.NewFakeDevice(testAddress)
	dev.WithService("180a").WithCharacteristic("2a28", "read", []byte("1.4.2"))
	s.adapter.SeedDevice(dev)
	s.discover(dev)
	dev.CompleteConnect(true)
	s.exec.Drain()

	s.Assert().Equal(Degraded, s.sess.State())
	s.Assert().True(s.sess.HasHandle(), "bind failure MUST keep the handle")
	var be *device.SchemaBindError
	s.Require().ErrorAs(s.sess.LastError(), &be)
	s.Assert().Equal([]string{"hgp_battery"}, be.MissingServices)
	s.Assert().Contains(testutils.Messages(s.hook, logrus.ErrorLevel), "Schema bind failed")

	dev.WithService("1abe0020-f938-452d-ad9e-76ee1b548e51").WithCharacteristic("2a1b", "read", []byte{50, 0})
	s.adapter.EmitChange(dev, device.PropertyChange{ServicesResolved: device.Bool(true)})
	s.exec.Drain()
	s.Assert().Equal(Ready, s.sess.State(), "DEGRADED with the link up MUST retry the bind")
	s.Assert().NoError(s.sess.LastError())

	s.Run("disconnect from DEGRADED", func() {
		s.SetupTest()
		dev := testutils.NewFakeDevice(testAddress)
		s.adapter.SeedDevice(dev)
		s.discover(dev)
		dev.CompleteConnect(true)
		s.exec.Drain()
		s.Require().Equal(Degraded, s.sess.State())

		s.adapter.EmitChange(dev, device.PropertyChange{Connected: device.Bool(false)})
		s.exec.Drain()
		s.Assert().Equal(Discovered, s.sess.State())
	})
}

func (s *SessionTestSuite) TestRSSIWhileDisconnected() {
	// GOAL: Verify advertisements from a device the session believes is linked trigger a reconnect
	//
	// TEST SCENARIO: READY, link silently dropped → RSSI → tree released → CONNECTING
	s.makeReady()
	gen := s.sess.Generation()
	s.dev.SetLinkState(false, false)

	s.adapter.EmitChange(s.dev, device.PropertyChange{RSSI: device.Int16(-60)})
	s.exec.Drain()

	s.Assert().Equal(Connecting, s.sess.State())
	s.Assert().Nil(s.sess.Tree())
	s.Assert().Equal(gen+1, s.sess.Generation())
	s.Assert().Equal(2, s.dev.ConnectCalls)
	s.Require().NotNil(s.sess.Status().RSSI)
	s.Assert().Equal(int16(-60), *s.sess.Status().RSSI)

	s.Run("from DISCOVERED reconnects", func() {
		s.SetupTest()
		s.discover(s.dev)
		s.dev.FailConnect(errors.New("abort"))
		s.exec.Drain()
		s.Require().Equal(Discovered, s.sess.State())

		s.adapter.EmitChange(s.dev, device.PropertyChange{RSSI: device.Int16(-70)})
		s.exec.Drain()
		s.Assert().Equal(Connecting, s.sess.State())
		s.Assert().Equal(2, s.dev.ConnectCalls)
	})

	s.Run("while CONNECTING is ignored", func() {
		s.SetupTest()
		s.discover(s.dev)
		s.adapter.EmitChange(s.dev, device.PropertyChange{RSSI: device.Int16(-70)})
		s.exec.Drain()
		s.Assert().Equal(Connecting, s.sess.State())
		s.Assert().Equal(1, s.dev.ConnectCalls)
	})

	s.Run("while linked only updates RSSI", func() {
		s.SetupTest()
		s.makeReady()
		s.adapter.EmitChange(s.dev, device.PropertyChange{RSSI: device.Int16(-42)})
		s.exec.Drain()
		s.Assert().Equal(Ready, s.sess.State())
		s.Assert().Equal(1, s.dev.ConnectCalls)
	})
}

func (s *SessionTestSuite) TestRemovedAndPowerLost() {
	// GOAL: Verify handle loss paths
	//
	// TEST SCENARIO: READY → Removed → UNBOUND without handle; READY → PowerLost → DEGRADED with ErrAdapterUnpowered
	s.makeReady()
	gen := s.sess.Generation()

	s.sess.Removed()
	s.Assert().Equal(Unbound, s.sess.State())
	s.Assert().False(s.sess.HasHandle())
	s.Assert().Equal(gen+1, s.sess.Generation())

	s.adapter.EmitChange(s.dev, device.PropertyChange{Connected: device.Bool(false)})
	s.exec.Drain()
	s.Assert().Equal(Unbound, s.sess.State(), "changes without a handle MUST be ignored")

	s.Run("power lost", func() {
		s.SetupTest()
		s.makeReady()
		s.sess.PowerLost()
		s.Assert().Equal(Degraded, s.sess.State())
		s.Assert().False(s.sess.HasHandle())
		s.Assert().ErrorIs(s.sess.LastError(), device.ErrAdapterUnpowered)
		s.Assert().Nil(s.sess.Tree())
	})
}

func (s *SessionTestSuite) TestRediscovery() {
	// GOAL: Verify the same handle is not registered twice and a new handle replaces the old one
	//
	// TEST SCENARIO: same handle while CONNECTING → ignored; new handle → warn, old released, new owned
	s.discover(s.dev)
	s.Assert().False(s.sess.Discovered(s.dev), "same handle MUST NOT be watched again")
	s.Assert().Equal(1, s.dev.ConnectCalls)

	s.dev.FailConnect(errors.New("abort"))
	s.exec.Drain()
	s.Assert().False(s.sess.Discovered(s.dev))
	s.Assert().Equal(2, s.dev.ConnectCalls, "rediscovered DISCOVERED handle MUST reconnect")
	s.Assert().Equal(Connecting, s.sess.State())

	gen := s.sess.Generation()
	other := testutils.NewFakeDeviceFromJSON(testutils.HGPPeripheralJSON, testAddress)
	s.adapter.SeedDevice(other)
	s.discover(other)

	s.Assert().True(s.sess.Owns(other))
	s.Assert().False(s.sess.Owns(s.dev))
	s.Assert().Equal(gen+1, s.sess.Generation())
	s.Assert().Contains(testutils.Messages(s.hook, logrus.WarnLevel), "Replacing device handle")
	s.Assert().Equal(1, other.ConnectCalls)
}

func (s *SessionTestSuite) TestSubscriptionWarnings() {
	// GOAL: Verify subscription problems are logged without failing the session
	//
	// TEST SCENARIO: notify refused, StartNotify error, capability error → warnings → still READY
	s.char("1abe0030-f938-452d-ad9e-76ee1b548e51", "1abe0036-f938-452d-ad9e-76ee1b548e51").RefuseNotify = true
	s.char("1abe0030-f938-452d-ad9e-76ee1b548e51", "1abe0034-f938-452d-ad9e-76ee1b548e51").StartNotifyErr = errors.New("Not permitted")
	s.char("180a", "2a24").CapsErr = errors.New("flags unavailable")

	s.makeReady()

	warnings := testutils.Messages(s.hook, logrus.WarnLevel)
	s.Assert().Contains(warnings, "Notifications did not enable")
	s.Assert().Contains(warnings, "Failed to enable notifications")
	s.Assert().Contains(warnings, "Skipping characteristic, inspection failed")
	s.Assert().Equal(Ready, s.sess.State())
	s.Assert().Equal(0, s.char("180a", "2a24").Reads, "uninspectable characteristic MUST NOT be read")
}

func (s *SessionTestSuite) TestReadWrite() {
	// GOAL: Verify explicit reads and writes and that their failures leave the state untouched
	//
	// TEST SCENARIO: not ready → ErrNotReady; READY → read, write ok, write encode error, read transport error
	s.Assert().ErrorIs(s.sess.Read("hgp_battery", "battery_level_state"), ErrNotReady)
	s.Assert().ErrorIs(s.sess.Write("hgp_battery", "battery_charging_time", 1, nil), ErrNotReady)

	s.makeReady()

	var nf *device.NotFoundError
	s.Assert().ErrorAs(s.sess.Read("hgp_battery", "nope"), &nf)

	c := s.char("1abe0020-f938-452d-ad9e-76ee1b548e51", "1abe0022-f938-452d-ad9e-76ee1b548e51")
	var result error = errors.New("unset")
	s.Require().NoError(s.sess.Write("hgp_battery", "battery_charging_time", 600, func(err error) { result = err }))
	s.exec.Drain()
	s.Assert().NoError(result)
	s.Assert().Equal([][]byte{{0x58, 0x02}}, c.Writes)

	result = nil
	s.Require().NoError(s.sess.Write("hgp_battery", "battery_charging_time", "soon", func(err error) { result = err }))
	s.exec.Drain()
	s.Assert().Error(result, "encode failure MUST be reported")
	s.Assert().Len(c.Writes, 1, "encode failure MUST NOT reach the transport")

	changes := s.changes
	s.char("180a", "2a28").ReadErr = errors.New("org.bluez.Error.NotConnected")
	s.Require().NoError(s.sess.Read("device_information", "software_revision_string"))
	s.exec.Drain()
	s.Assert().Equal(Ready, s.sess.State(), "read failure MUST NOT change state")
	s.Assert().ErrorIs(s.sess.LastError(), device.ErrNotConnected)
	s.Assert().Greater(s.changes, changes, "recording an error MUST notify the owner")
	s.Assert().Contains(testutils.Messages(s.hook, logrus.WarnLevel), "Read failed")
}

func (s *SessionTestSuite) TestStatus() {
	s.Assert().Equal("UNBOUND", s.sess.Status().State)
	s.makeReady()

	st := s.sess.Status()
	s.Assert().Equal(testAddress, st.Address)
	s.Assert().Equal("READY", st.State)
	s.Assert().Equal("HGP", st.Name)
	s.Assert().Empty(st.LastError)
	s.Assert().Equal(time.Unix(1700000000, 0), st.Since)
}

func TestSessionTestSuite(t *testing.T) {
	suite.Run(t, new(SessionTestSuite))
}
