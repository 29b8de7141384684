// Package jsoncodec centralises JSON handling so event envelopes, KV entry
// records, and SSE data frames all go through the same sonic configuration.
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

// codec uses the stdlib-compatible configuration; payloads round-trip the same
// way encoding/json would serialise them.
var codec = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return codec.Marshal(v)
}

// MarshalString is used where the result goes straight into a text frame.
func MarshalString(v any) (string, error) {
	return codec.MarshalToString(v)
}

func Unmarshal(data []byte, v any) error {
	return codec.Unmarshal(data, v)
}

func Encode(w io.Writer, v any) error {
	return codec.NewEncoder(w).Encode(v)
}

func Decode(r io.Reader, v any) error {
	return codec.NewDecoder(r).Decode(v)
}
