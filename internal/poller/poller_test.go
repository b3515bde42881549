package poller

import (
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/srg/blimd/internal/session"
	"github.com/srg/blimd/internal/sink"
	"github.com/srg/blimd/internal/testutils"
)

type MockPeer struct {
	mock.Mock
	address string
}

func (m *MockPeer) Address() string { return m.address }

func (m *MockPeer) State() session.State {
	args := m.Called()
	return args.Get(0).(session.State)
}

func (m *MockPeer) Read(service, characteristic string) error {
	args := m.Called(service, characteristic)
	return args.Error(0)
}

type MockScanGate struct {
	mock.Mock
}

func (m *MockScanGate) SuspendScan()     { m.Called() }
func (m *MockScanGate) ResumeScan()      { m.Called() }
func (m *MockScanGate) ApplyScanPolicy() { m.Called() }

type tickRecorder struct {
	sink.Publisher
	ticks []sink.Tick
}

func (r *tickRecorder) PublishTick(t sink.Tick) { r.ticks = append(r.ticks, t) }

var targets = []Target{
	{Service: "device_information", Characteristic: "software_revision_string"},
	{Service: "hgp_battery", Characteristic: "battery_level_state"},
}

type PollerTestSuite struct {
	suite.Suite

	logger    *logrus.Logger
	hook      *test.Hook
	exec      *testutils.ManualExecutor
	scan      *MockScanGate
	publisher *tickRecorder
	peers     []Peer
}

func (s *PollerTestSuite) SetupTest() {
	s.logger, s.hook = testutils.NewTestLogger()
	s.exec = testutils.NewManualExecutor()
	s.scan = &MockScanGate{}
	s.scan.On("SuspendScan").Return().Maybe()
	s.scan.On("ResumeScan").Return().Maybe()
	s.scan.On("ApplyScanPolicy").Return().Maybe()
	s.publisher = &tickRecorder{Publisher: sink.Discard}
	s.peers = nil
}

func (s *PollerTestSuite) newPoller(resume bool) *Poller {
	p, err := New(Config{
		Interval:            10 * time.Second,
		Targets:             targets,
		ResumeScanAfterPoll: resume,
		Peers:               func() []Peer { return s.peers },
		Scan:                s.scan,
		Executor:            s.exec,
		Publisher:           s.publisher,
		Logger:              s.logger,
		Now:                 func() time.Time { return time.Unix(1700000000, 0) },
	})
	s.Require().NoError(err)
	return p
}

func (s *PollerTestSuite) addPeer(address string, state session.State) *MockPeer {
	peer := &MockPeer{address: address}
	peer.On("State").Return(state)
	s.peers = append(s.peers, peer)
	return peer
}

func (s *PollerTestSuite) TestTickReadsReadyPeers() {
	// GOAL: Verify a tick reads every target from READY peers and tallies the rest as missing
	//
	// TEST SCENARIO: one READY, one DISCOVERED peer → scan suspended → 2 reads issued → scan resumed → report published
	ready := s.addPeer("AA:AA:AA:AA:AA:AA", session.Ready)
	ready.On("Read", mock.Anything, mock.Anything).Return(nil)
	missing := s.addPeer("BB:BB:BB:BB:BB:BB", session.Discovered)

	report := s.newPoller(true).Tick()

	s.Assert().Equal(sink.Tick{
		Tick:             1,
		Ready:            1,
		Missing:          1,
		Issued:           2,
		Time:             time.Unix(1700000000, 0),
		MissingAddresses: []string{"BB:BB:BB:BB:BB:BB"},
	}, report)
	ready.AssertCalled(s.T(), "Read", "device_information", "software_revision_string")
	ready.AssertCalled(s.T(), "Read", "hgp_battery", "battery_level_state")
	missing.AssertNotCalled(s.T(), "Read", mock.Anything, mock.Anything)

	s.scan.AssertCalled(s.T(), "SuspendScan")
	s.scan.AssertCalled(s.T(), "ResumeScan")
	s.scan.AssertNotCalled(s.T(), "ApplyScanPolicy")
	s.Require().Len(s.publisher.ticks, 1)
}

func (s *PollerTestSuite) TestPolicyScanWhenNotResuming() {
	s.addPeer("AA:AA:AA:AA:AA:AA", session.Connecting)
	s.newPoller(false).Tick()

	s.scan.AssertCalled(s.T(), "SuspendScan")
	s.scan.AssertCalled(s.T(), "ApplyScanPolicy")
	s.scan.AssertNotCalled(s.T(), "ResumeScan")
}

func (s *PollerTestSuite) TestFailureIsolation() {
	// GOAL: Verify a failing or panicking peer does not stop reads for the other peers in the same tick
	//
	// TEST SCENARIO: peer A read errors, peer B panics, peer C fine → A and B tallied as failed → C read twice
	a := s.addPeer("AA:AA:AA:AA:AA:AA", session.Ready)
	a.On("Read", "device_information", "software_revision_string").Return(errors.New("session not ready"))
	a.On("Read", "hgp_battery", "battery_level_state").Return(nil)

	b := s.addPeer("BB:BB:BB:BB:BB:BB", session.Ready)
	b.On("Read", mock.Anything, mock.Anything).Run(func(mock.Arguments) { panic("boom") })

	c := s.addPeer("CC:CC:CC:CC:CC:CC", session.Ready)
	c.On("Read", mock.Anything, mock.Anything).Return(nil)

	report := s.newPoller(true).Tick()

	s.Assert().Equal(3, report.Ready)
	s.Assert().Equal(2, report.Failed)
	s.Assert().Equal([]string{"AA:AA:AA:AA:AA:AA", "BB:BB:BB:BB:BB:BB"}, report.FailedAddresses)
	s.Assert().Equal(3, report.Issued, "A's second target and both of C's MUST still be issued")
	c.AssertNumberOfCalls(s.T(), "Read", 2)
	s.scan.AssertCalled(s.T(), "ResumeScan")
	s.Assert().Contains(testutils.Messages(s.hook, logrus.ErrorLevel), "Recovered from panic")
}

func (s *PollerTestSuite) TestReschedulesAfterTotalFailure() {
	// GOAL: Verify the timer fires again after a tick in which everything failed, even a panic in the tick itself
	//
	// TEST SCENARIO: start → every read fails → advance → tick 1 → scan gate panics → advance → tick 2 still runs → tick 3
	peer := s.addPeer("AA:AA:AA:AA:AA:AA", session.Ready)
	peer.On("Read", mock.Anything, mock.Anything).Return(errors.New("org.bluez.Error.Failed"))

	p := s.newPoller(true)
	p.Start()
	s.Assert().Equal(1, s.exec.ActiveTimers())

	s.exec.Advance(10 * time.Second)
	s.Require().Len(s.publisher.ticks, 1)
	s.Assert().Equal(1, s.publisher.ticks[0].Failed)
	s.Assert().Equal(1, s.exec.ActiveTimers(), "timer MUST be rescheduled after a failed tick")

	s.scan.ExpectedCalls = nil
	s.scan.On("SuspendScan").Run(func(mock.Arguments) { panic("scan gate exploded") })
	s.exec.Advance(10 * time.Second)
	s.Assert().EqualValues(2, p.Ticks())
	s.Assert().Len(s.publisher.ticks, 1, "aborted tick MUST NOT publish a report")
	s.Assert().Equal(1, s.exec.ActiveTimers(), "timer MUST be rescheduled after a panicking tick")
	s.Assert().Contains(testutils.Messages(s.hook, logrus.ErrorLevel), "Poll tick aborted")

	s.scan.ExpectedCalls = nil
	s.scan.On("SuspendScan").Return()
	s.scan.On("ResumeScan").Return()
	s.exec.Advance(10 * time.Second)
	s.Assert().EqualValues(3, p.Ticks())
	s.Assert().Len(s.publisher.ticks, 2)
}

func (s *PollerTestSuite) TestStop() {
	p := s.newPoller(true)
	p.Start()
	p.Stop()
	s.Assert().Equal(0, s.exec.ActiveTimers())

	s.exec.Advance(time.Minute)
	s.Assert().EqualValues(0, p.Ticks())
}

func TestPollerTestSuite(t *testing.T) {
	suite.Run(t, new(PollerTestSuite))
}

func TestParseTarget(t *testing.T) {
	got, err := ParseTarget("hgp_battery.battery_level_state")
	require.NoError(t, err)
	assert.Equal(t, Target{Service: "hgp_battery", Characteristic: "battery_level_state"}, got)

	got, err = ParseTarget("device_information/software_revision_string")
	require.NoError(t, err)
	assert.Equal(t, "device_information/software_revision_string", got.String())

	for _, bad := range []string{"", "battery", ".x", "x."} {
		_, err := ParseTarget(bad)
		assert.Error(t, err, "%q MUST be rejected", bad)
	}
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{Interval: 0})
	assert.ErrorContains(t, err, "must be positive")

	_, err = New(Config{Interval: time.Second})
	assert.Error(t, err)
}
