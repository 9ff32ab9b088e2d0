// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/pdiddy/docconvert/pkg/types"
)

// NormalizeUploadURL turns the raw upload-URL value from a submission
// response into a usable URL. The service sometimes wraps the URL in a
// second layer of JSON string encoding, so exactly one decode is attempted;
// if raw is not a JSON string literal it is used as-is. Newline, carriage
// return and tab characters are then removed and surrounding space trimmed.
func NormalizeUploadURL(raw string) string {
	u := raw
	var decoded string
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &decoded); err == nil {
		u = decoded
	}
	u = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', '\t':
			return -1
		}
		return r
	}, u)
	return strings.TrimSpace(u)
}

// ParseHeaders converts the service's header list, a JSON array of
// single-key objects, into ordered name/value pairs. Objects with several
// keys contribute every pair in document order. A lone object is treated as
// a one-element list. Non-string values keep their JSON text. Null or empty
// input yields no headers.
func ParseHeaders(raw json.RawMessage) ([]types.Header, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("reading headers: %w", err)
	}

	var headers []types.Header
	switch tok {
	case json.Delim('['):
		for dec.More() {
			obj, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("reading header entry: %w", err)
			}
			if obj != json.Delim('{') {
				return nil, fmt.Errorf("header entry is %v, want object", obj)
			}
			if headers, err = readObject(dec, headers); err != nil {
				return nil, err
			}
		}
		if _, err := dec.Token(); err != nil {
			return nil, fmt.Errorf("closing header list: %w", err)
		}
	case json.Delim('{'):
		if headers, err = readObject(dec, headers); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("headers are %v, want list of objects", tok)
	}
	return headers, nil
}

// readObject consumes the members of an object whose opening brace has
// already been read, appending each as a header.
func readObject(dec *json.Decoder, headers []types.Header) ([]types.Header, error) {
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("reading header name: %w", err)
		}
		name, _ := keyTok.(string)

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("reading header %q: %w", name, err)
		}
		if strings.TrimSpace(name) == "" || bytes.Equal(value, []byte("null")) {
			continue
		}
		headers = append(headers, types.Header{Name: name, Value: headerValue(value)})
	}
	if _, err := dec.Token(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("closing header object: %w", err)
	}
	return headers, nil
}

func headerValue(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	return string(v)
}
