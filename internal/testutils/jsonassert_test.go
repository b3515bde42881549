package testutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJSONAsserter(t *testing.T) {
	status := `{"address":"AA:BB:CC:DD:EE:01","state":"READY","generation":3,"since":"2026-10-19T10:00:00Z","bound":true}`

	t.Run("subset with presence placeholder", func(t *testing.T) {
		rt := &recordingT{}
		ok := NewJSONAsserter(rt).Assert(status, `{"state":"READY","since":"<<PRESENCE>>"}`)
		assert.True(t, ok, "extra keys MUST be ignored and the placeholder MUST match any value")
		assert.Empty(t, rt.errors)
	})

	t.Run("placeholder requires the key", func(t *testing.T) {
		rt := &recordingT{}
		assert.False(t, NewJSONAsserter(rt).Assert(`{"state":"READY"}`, `{"since":"<<PRESENCE>>"}`))
		assert.Len(t, rt.errors, 1)
	})

	t.Run("value mismatch", func(t *testing.T) {
		diff := NewJSONAsserter(&recordingT{}).Diff(status, `{"state":"DEGRADED"}`)
		assert.Contains(t, diff, "DEGRADED")
		assert.Contains(t, diff, "READY")
	})

	t.Run("strict keys", func(t *testing.T) {
		ja := NewJSONAsserter(&recordingT{}, WithIgnoreExtraKeys(false))
		assert.NotEmpty(t, ja.Diff(status, `{"state":"READY"}`), "extra keys MUST fail when not ignored")
	})

	t.Run("ignored fields", func(t *testing.T) {
		ja := NewJSONAsserter(&recordingT{}, WithIgnoreExtraKeys(false), WithIgnoredFields("generation", "since"))
		assert.Empty(t, ja.Diff(status, `{"address":"AA:BB:CC:DD:EE:01","state":"READY","generation":9,"bound":true}`))
	})

	t.Run("arrays", func(t *testing.T) {
		ja := NewJSONAsserter(&recordingT{})
		assert.Empty(t, ja.Diff(`[{"tick":1,"ready":2},{"tick":2}]`, `[{"tick":1},{"tick":2}]`))
		assert.NotEmpty(t, ja.Diff(`[{"tick":1}]`, `[{"tick":2}]`))
	})

	t.Run("invalid JSON", func(t *testing.T) {
		ja := NewJSONAsserter(&recordingT{})
		assert.Contains(t, ja.Diff(`{`, `{}`), "invalid actual JSON")
		assert.Contains(t, ja.Diff(`{}`, `nope`), "invalid expected JSON")
	})

	t.Run("MustJSON", func(t *testing.T) {
		assert.Equal(t, `{"a":1}`, MustJSON(map[string]int{"a": 1}))
		assert.Panics(t, func() { MustJSON(make(chan int)) })
	})
}
