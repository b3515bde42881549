package sink

import (
	"github.com/sirupsen/logrus"

	"github.com/srg/blimd/internal/codec"
)

// LogSink writes records as structured log entries.
type LogSink struct {
	logger logrus.FieldLogger
	level  logrus.Level
}

// NewLogSink logs values and ticks at level; status changes are always Info.
func NewLogSink(logger logrus.FieldLogger, level logrus.Level) *LogSink {
	return &LogSink{logger: logger.WithField("sink", "log"), level: level}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) WriteValue(v Value) error {
	entry := s.logger.WithFields(logrus.Fields{
		"address":        v.Address,
		"service":        v.Service,
		"characteristic": v.Characteristic,
		"kind":           v.Kind,
		"value":          codec.Format(v.Value),
	})
	if v.DecodeError != "" {
		entry = entry.WithField("decode_error", v.DecodeError)
	}
	s.log(entry, "Value")
	return nil
}

func (s *LogSink) WriteStatus(st Status) error {
	fields := logrus.Fields{
		"address":    st.Address,
		"state":      st.State,
		"generation": st.Generation,
		"bound":      st.Bound,
	}
	if st.LastError != "" {
		fields["last_error"] = st.LastError
	}
	if st.RSSI != nil {
		fields["rssi"] = *st.RSSI
	}
	s.logger.WithFields(fields).Info("Session status")
	return nil
}

func (s *LogSink) WriteTick(t Tick) error {
	s.log(s.logger.WithFields(logrus.Fields{
		"tick":    t.Tick,
		"ready":   t.Ready,
		"missing": t.Missing,
		"failed":  t.Failed,
		"issued":  t.Issued,
	}), "Poll report")
	return nil
}

func (s *LogSink) Close() error { return nil }

func (s *LogSink) log(entry logrus.FieldLogger, msg string) {
	switch s.level {
	case logrus.TraceLevel, logrus.DebugLevel:
		entry.Debug(msg)
	case logrus.WarnLevel:
		entry.Warn(msg)
	default:
		entry.Info(msg)
	}
}
