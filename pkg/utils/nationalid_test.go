package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeNationalID(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   string
		wantOK bool
	}{
		{name: "bare digits", input: "12345678901", want: "123.456.789-01", wantOK: true},
		{name: "canonical", input: "123.456.789-01", want: "123.456.789-01", wantOK: true},
		{name: "surrounding spaces", input: " 12345678901 ", want: "123.456.789-01", wantOK: true},
		{name: "too short", input: "1234567890", wantOK: false},
		{name: "too long", input: "123456789012", wantOK: false},
		{name: "misplaced separators", input: "1234.56.789-01", wantOK: false},
		{name: "letters", input: "123.456.78a-01", wantOK: false},
		{name: "empty", input: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizeNationalID(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
