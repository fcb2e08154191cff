package schema

import (
	"fmt"
	"io"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// DefaultEncoding is used when no encoding is configured
const DefaultEncoding = "utf-8"

// lookupEncoding resolves an encoding label such as "utf-8", "latin1" or "shift_jis"
func lookupEncoding(label string) (encoding.Encoding, string, error) {
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, "", fmt.Errorf("unknown encoding %q: %w", label, err)
	}
	name, err := htmlindex.Name(enc)
	if err != nil {
		return nil, "", fmt.Errorf("unknown encoding %q: %w", label, err)
	}
	return enc, name, nil
}

// decode reads r fully and converts it to a UTF-8 string.
// UTF-8 input is validated rather than repaired, so invalid bytes are an error.
func decode(r io.Reader, label string) (string, error) {
	enc, name, err := lookupEncoding(label)
	if err != nil {
		return "", err
	}

	var t transform.Transformer
	if name == DefaultEncoding {
		t = encoding.UTF8Validator
	} else {
		t = enc.NewDecoder()
	}

	data, err := io.ReadAll(transform.NewReader(r, t))
	if err != nil {
		return "", err
	}
	return string(data), nil
}
