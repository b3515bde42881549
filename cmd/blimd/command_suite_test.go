package main

import (
	"bytes"
	"context"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/srg/blimd/internal/testutils"
	"github.com/srg/blimd/pkg/config"
)

const (
	TestDeviceAddress1 = "AA:BB:CC:DD:EE:01"
	TestDeviceAddress2 = "AA:BB:CC:DD:EE:02"
)

// fakeBackend is a FakeAdapter that can be closed.
type fakeBackend struct {
	*testutils.FakeAdapter
	closed atomic.Bool
}

func (b *fakeBackend) Close() error {
	b.closed.Store(true)
	return nil
}

// CommandTestSuite builds a fresh command tree per test and routes the
// backend opener to an in-memory adapter.
type CommandTestSuite struct {
	suite.Suite

	Backend      *fakeBackend
	OpenAttempts atomic.Int32
	OpenErrs     []error

	restoreOpen func(context.Context, *config.Config, logrus.FieldLogger) (backend, error)
}

func (s *CommandTestSuite) SetupSuite() {
	s.restoreOpen = openBackend
	openBackend = func(context.Context, *config.Config, logrus.FieldLogger) (backend, error) {
		n := int(s.OpenAttempts.Add(1))
		if n <= len(s.OpenErrs) {
			return nil, s.OpenErrs[n-1]
		}
		return s.Backend, nil
	}
}

func (s *CommandTestSuite) TearDownSuite() {
	openBackend = s.restoreOpen
}

// SetupTest starts every test with a fresh adapter that opens first time.
func (s *CommandTestSuite) SetupTest() {
	s.Backend = &fakeBackend{FakeAdapter: testutils.NewFakeAdapter()}
	s.OpenAttempts.Store(0)
	s.OpenErrs = nil
}

// ExecuteCommand runs the root command with args, returns output and error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	return s.ExecuteCommandContext(context.Background(), args...)
}

// ExecuteCommandContext runs the root command with ctx; stdout and stderr
// (and so the log) are captured together.
func (s *CommandTestSuite) ExecuteCommandContext(ctx context.Context, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	cmd := newRootCmd()
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return buf.String(), err
}
