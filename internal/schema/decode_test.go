package schema

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    []byte
		encoding string
		want     string
		wantErr  bool
	}{
		{
			name:     "utf-8 passes through unchanged",
			input:    []byte("CREATE TABLE café (id INT);\n"),
			encoding: "utf-8",
			want:     "CREATE TABLE café (id INT);\n",
		},
		{
			name:     "empty file",
			input:    []byte{},
			encoding: "utf-8",
			want:     "",
		},
		{
			name:     "invalid utf-8 is rejected",
			input:    []byte{'a', 0xff, 0xfe, 'b'},
			encoding: "utf-8",
			wantErr:  true,
		},
		{
			name:     "latin1 is converted",
			input:    []byte{'c', 'a', 'f', 0xe9},
			encoding: "latin1",
			want:     "café",
		},
		{
			name:     "utf-16le is converted",
			input:    []byte{'i', 0, 'd', 0},
			encoding: "utf-16le",
			want:     "id",
		},
		{
			name:     "unknown encoding",
			input:    []byte("x"),
			encoding: "ebcdic-klingon",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := decode(bytes.NewReader(tt.input), tt.encoding)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecode_LargeInput(t *testing.T) {
	t.Parallel()

	statement := "INSERT INTO t VALUES ('ü');\n"
	input := strings.Repeat(statement, 10000)

	got, err := decode(strings.NewReader(input), DefaultEncoding)
	require.NoError(t, err)
	assert.Equal(t, input, got)
}
