package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSameUUID(t *testing.T) {
	tests := []struct {
		name     string
		a, b     string
		expected bool
	}{
		{
			name:     "short vs SIG base",
			a:        "2a1f",
			b:        "00002A1F-0000-1000-8000-00805F9B34FB",
			expected: true,
		},
		{
			name:     "vendor uuid case and dashes",
			a:        "1ABE0010-F938-452D-AD9E-76EE1B548E51",
			b:        "1abe0010f938452dad9e76ee1b548e51",
			expected: true,
		},
		{
			name:     "different uuids",
			a:        "1ABE0011-F938-452D-AD9E-76EE1B548E51",
			b:        "1ABE0012-F938-452D-AD9E-76EE1B548E51",
			expected: false,
		},
		{
			name:     "empty never matches",
			a:        "",
			b:        "",
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SameUUID(tt.a, tt.b))
		})
	}
}

func TestValidateUUID(t *testing.T) {
	got, err := ValidateUUID("0x180A", "1ABE0020-F938-452D-AD9E-76EE1B548E51")
	require.NoError(t, err)
	assert.Equal(t, []string{"180a", "1abe0020f938452dad9e76ee1b548e51"}, got)

	_, err = ValidateUUID()
	assert.Error(t, err)

	_, err = ValidateUUID("180a", "")
	assert.ErrorContains(t, err, "index 1")

	_, err = ValidateUUID("not-a-uuid")
	assert.ErrorContains(t, err, "invalid UUID format")
}

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		wantErr  bool
	}{
		{name: "already canonical", input: "AA:BB:CC:DD:EE:FF", expected: "AA:BB:CC:DD:EE:FF"},
		{name: "lower case", input: "aa:bb:cc:dd:ee:0f", expected: "AA:BB:CC:DD:EE:0F"},
		{name: "dashes", input: "aa-bb-cc-dd-ee-ff", expected: "AA:BB:CC:DD:EE:FF"},
		{name: "bluez path segment", input: "AA_BB_CC_DD_EE_FF", expected: "AA:BB:CC:DD:EE:FF"},
		{name: "surrounding spaces", input: "  AA:BB:CC:DD:EE:FF ", expected: "AA:BB:CC:DD:EE:FF"},
		{name: "five octets", input: "AA:BB:CC:DD:EE", wantErr: true},
		{name: "non hex", input: "AA:BB:CC:DD:EE:GG", wantErr: true},
		{name: "short octet", input: "A:BB:CC:DD:EE:FF", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeAddress(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Equal(t, tt.input, MustNormalizeAddress(tt.input))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}
