package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitList(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"empty", "", []string{}},
		{"single", "localhost:9092", []string{"localhost:9092"}},
		{"trims and dedupes", " a:1, b:2,,a:1 ", []string{"a:1", "b:2"}},
		{"keeps case", "Bucket,bucket", []string{"Bucket", "bucket"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitList(tt.input))
		})
	}
}

func TestSplitListLower(t *testing.T) {
	got := SplitListLower("application/PDF, image/png ,Application/pdf")
	assert.Equal(t, []string{"application/pdf", "image/png"}, got)
}

func TestDedupeAndTrimLower(t *testing.T) {
	got := DedupeAndTrimLower([]string{"  IMAGE/TIFF ", "image/tiff", ""})
	assert.Equal(t, []string{"image/tiff"}, got)
}
