package testutils

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// NewTestLogger returns a debug-level logger that discards output and a hook
// capturing every entry.
func NewTestLogger() (*logrus.Logger, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return logger, hook
}

// Transcript renders captured entries at or above minLevel as
// "level message key=value ..." lines. Only the named fields are included,
// in the order given, so transcripts stay stable across runs.
func Transcript(hook *test.Hook, minLevel logrus.Level, fields ...string) string {
	var b strings.Builder
	for _, e := range hook.AllEntries() {
		if e.Level > minLevel {
			continue
		}
		b.WriteString(e.Level.String())
		b.WriteString(" ")
		b.WriteString(e.Message)
		for _, f := range fields {
			if v, ok := e.Data[f]; ok {
				fmt.Fprintf(&b, " %s=%v", f, v)
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Messages returns the messages of captured entries at exactly level.
func Messages(hook *test.Hook, level logrus.Level) []string {
	var out []string
	for _, e := range hook.AllEntries() {
		if e.Level == level {
			out = append(out, e.Message)
		}
	}
	return out
}

// FieldValues collects the distinct values of field across captured entries
// with the given message, sorted.
func FieldValues(hook *test.Hook, message, field string) []string {
	seen := make(map[string]bool)
	for _, e := range hook.AllEntries() {
		if e.Message != message {
			continue
		}
		if v, ok := e.Data[field]; ok {
			seen[fmt.Sprint(v)] = true
		}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
