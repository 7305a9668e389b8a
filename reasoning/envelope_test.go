package reasoning

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripEnvelope(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "no markers returns full text",
			in:   "just an analysis",
			want: "just an analysis",
		},
		{
			name: "thought region removed",
			in:   "<thought>hmm let me think</thought>final analysis",
			want: "final analysis",
		},
		{
			name: "output region extracted",
			in:   "preamble <output>the real answer</output> trailing",
			want: "the real answer",
		},
		{
			name: "thought then output",
			in:   "<thought>scratch</thought><output>clean</output>",
			want: "clean",
		},
		{
			name: "multiple thought regions",
			in:   "<thought>a</thought>keep<thought>b</thought> this",
			want: "keep this",
		},
		{
			name: "unterminated thought drops the tail",
			in:   "analysis <thought>never closed",
			want: "analysis",
		},
		{
			name: "unterminated output keeps the rest",
			in:   "<output>answer without close",
			want: "answer without close",
		},
		{
			name: "empty input",
			in:   "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripEnvelope(tt.in))
		})
	}
}
