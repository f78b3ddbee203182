// Package decode turns a Message's raw payload and encoding tag into the
// structured intermediate preprocess plugins operate on.
//
// The encoding tag is a small closed set, matched exhaustively here rather
// than through a string-keyed lookup table, so adding a format is a
// compile-time concern.
package decode

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/edgeinfer/orchestrator/internal/message"
)

// Payload turns msg's raw bytes into a decoded intermediate according to its
// encoding tag: json unmarshals into a generic value, jpeg/base64 are handled
// inline, npz is parsed into a name->array mapping, and every other tag
// (including bgr and raw) passes the bytes through unchanged.
func Payload(msg *message.Message) (any, error) {
	switch msg.Encoding {
	case message.EncodingJSON:
		var v any
		if err := json.Unmarshal(msg.Payload, &v); err != nil {
			return nil, fmt.Errorf("decode: invalid json payload: %w", err)
		}
		return v, nil

	case message.EncodingJPEG:
		return msg.Payload, nil

	case message.EncodingBase64:
		decoded, err := base64.StdEncoding.DecodeString(string(msg.Payload))
		if err != nil {
			return nil, fmt.Errorf("decode: invalid base64 payload: %w", err)
		}
		return decoded, nil

	case message.EncodingNPZ:
		arrays, err := decodeNPZ(msg.Payload)
		if err != nil {
			return nil, fmt.Errorf("decode: invalid npz payload: %w", err)
		}
		return arrays, nil

	default: // EncodingBGR, EncodingRaw, and anything unrecognized
		return msg.Payload, nil
	}
}
