package fetch

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stutterReader returns (0, nil) before every byte it hands out
type stutterReader struct {
	r     io.Reader
	empty bool
}

func (s *stutterReader) Read(p []byte) (int, error) {
	s.empty = !s.empty
	if s.empty || len(p) == 0 {
		return 0, nil
	}

	return s.r.Read(p[:1])
}

func TestReadLimited(t *testing.T) {
	message := "readLimited(%q, %d)"

	for _, tt := range []struct {
		body     string
		max      int64
		exceeded bool
	}{
		{"", 4, false},
		{"abc", 4, false},
		{"abcd", 4, false},
		{"abcde", 4, true},
		{strings.Repeat("x", 100), 4, true},
	} {
		content, exceeded, err := readLimited(strings.NewReader(tt.body), tt.max)
		require.NoError(t, err, message, tt.body, tt.max)
		assert.Equal(t, tt.exceeded, exceeded, message, tt.body, tt.max)
		if !tt.exceeded {
			assert.Equal(t, tt.body, string(content), message, tt.body, tt.max)
		}

		// Readers that return nothing without an error must not hide the
		// byte past the limit
		_, exceeded, err = readLimited(&stutterReader{r: strings.NewReader(tt.body)}, tt.max)
		require.NoError(t, err, message, tt.body, tt.max)
		assert.Equal(t, tt.exceeded, exceeded, message, tt.body, tt.max)
	}
}

func TestReadLimitedReportsReadErrors(t *testing.T) {
	broken := io.MultiReader(bytes.NewReader([]byte("ab")), &failingReader{})

	_, exceeded, err := readLimited(broken, 10)
	assert.Error(t, err)
	assert.False(t, exceeded)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("connection reset")
}
