// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package remote

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/docconvert/pkg/types"
)

func TestNormalizeUploadURL(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain", "https://oss.example/u1?sig=abc", "https://oss.example/u1?sig=abc"},
		{"once encoded", `"https://oss.example/u1?sig=abc"`, "https://oss.example/u1?sig=abc"},
		{"encoded with escapes", `"https:\/\/oss.example\/u1"`, "https://oss.example/u1"},
		{"embedded whitespace", "https://oss.example/u1\n?sig=\tabc\r", "https://oss.example/u1?sig=abc"},
		{"encoded newline", `"https://oss.example/u1\n"`, "https://oss.example/u1"},
		{"surrounding space", "  https://oss.example/u1  ", "https://oss.example/u1"},
		{"broken encoding falls back", `"https://oss.example/u1`, `"https://oss.example/u1`},
		{"only one decode pass", `"\"https://oss.example/u1\""`, `"https://oss.example/u1"`},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeUploadURL(tt.raw))
		})
	}
}

func TestParseHeaders(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []types.Header
	}{
		{"null", `null`, nil},
		{"absent", ``, nil},
		{"empty list", `[]`, nil},
		{
			name: "ordered single-key objects",
			raw:  `[{"X-Sig":"abc"},{"Content-Type":""},{"x-oss-date":"20260101"}]`,
			want: []types.Header{
				{Name: "X-Sig", Value: "abc"},
				{Name: "Content-Type", Value: ""},
				{Name: "x-oss-date", Value: "20260101"},
			},
		},
		{
			name: "multi-key object keeps document order",
			raw:  `[{"b":"2","a":"1"}]`,
			want: []types.Header{{Name: "b", Value: "2"}, {Name: "a", Value: "1"}},
		},
		{
			name: "lone object",
			raw:  `{"X-Sig":"abc"}`,
			want: []types.Header{{Name: "X-Sig", Value: "abc"}},
		},
		{
			name: "non-string values keep json text",
			raw:  `[{"X-Count":3},{"X-Flag":true}]`,
			want: []types.Header{{Name: "X-Count", Value: "3"}, {Name: "X-Flag", Value: "true"}},
		},
		{
			name: "empty names and null values skipped",
			raw:  `[{"":"x"},{"X-Null":null},{"X-Sig":"abc"}]`,
			want: []types.Header{{Name: "X-Sig", Value: "abc"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseHeaders(json.RawMessage(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseHeaders_Malformed(t *testing.T) {
	for _, raw := range []string{`"X-Sig: abc"`, `["X-Sig"]`, `[{"X-Sig":"abc"}`} {
		_, err := ParseHeaders(json.RawMessage(raw))
		assert.Error(t, err, "ParseHeaders(%s)", raw)
	}
}
