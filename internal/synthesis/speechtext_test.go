package synthesis_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/voicetable/table-service/internal/synthesis"
)

func TestPrepareSpeechText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "plain text unchanged",
			in:   "Table created successfully",
			want: "Table created successfully",
		},
		{
			name: "markdown stripped",
			in:   "Added **3** rows to _inventory_",
			want: "Added 3 rows to inventory",
		},
		{
			name: "fenced block dropped",
			in:   "Summary: ```{\"headers\":[]}``` done",
			want: "Summary: done",
		},
		{
			name: "percent expanded",
			in:   "Stock fell 50%",
			want: "Stock fell 50 percent",
		},
		{
			name: "ampersand expanded",
			in:   "R&D budget",
			want: "R and D budget",
		},
		{
			name: "whitespace collapsed",
			in:   "one\n\ttwo   three",
			want: "one two three",
		},
		{
			name: "markup only becomes empty",
			in:   "``` ```",
			want: "",
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			got := synthesis.PrepareSpeechText(testCase.in)
			assert.Equal(t, testCase.want, got)
		})
	}
}
