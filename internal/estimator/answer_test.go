package estimator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "bare", in: `{"walls": "24 L"}`, want: `{"walls": "24 L"}`},
		{name: "fenced", in: "```json\n{\"walls\": 24}\n```", want: `{"walls": 24}`},
		{name: "surrounding prose", in: "Here you go:\n{\"ceiling\": {\"litres\": 6}}\nThanks", want: `{"ceiling": {"litres": 6}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.in)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestExtractJSONRejects(t *testing.T) {
	for _, in := range []string{"", "about 20 litres", "{walls: 20}", "} backwards {"} {
		_, err := ExtractJSON(in)
		assert.ErrorIs(t, err, ErrNoJSON, in)
	}
}
