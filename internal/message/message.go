// Package message defines the canonical in-flight record shared by connectors,
// pipelines, and agents.
package message

import "time"

// Encoding is the closed set of payload encodings a connector can attach to a
// Message. Matching it exhaustively at the decode step is a compile-time concern
// instead of a runtime string lookup.
type Encoding string

const (
	EncodingJSON   Encoding = "json"
	EncodingJPEG   Encoding = "jpeg"
	EncodingBase64 Encoding = "base64"
	EncodingNPZ    Encoding = "npz"
	EncodingBGR    Encoding = "bgr"
	EncodingRaw    Encoding = "raw"
)

// Letterbox carries the resize/pad parameters a vision preprocess step applies so
// that postprocess can map detection boxes back into original image coordinates.
type Letterbox struct {
	Gain   float64
	PadW   float64
	PadH   float64
	Height int
	Width  int
}

// Metadata is the typed crumb bag preprocess leaves for postprocess to read back.
// Fields preprocess/postprocess don't know about yet fall into Extra, keyed by
// string, so the set stays open without reintroducing an untyped map everywhere.
type Metadata struct {
	ImageHeight int
	ImageWidth  int
	Letterbox   Letterbox
	Topic       string
	Extra       map[string]any
}

// Clone returns a deep copy of the metadata so a re-routed Message never shares
// mutable state with its origin.
func (m Metadata) Clone() Metadata {
	clone := m
	if m.Extra != nil {
		clone.Extra = make(map[string]any, len(m.Extra))
		for k, v := range m.Extra {
			clone.Extra[k] = v
		}
	}
	return clone
}

// Message is the immutable-after-creation envelope wrapping a sensor payload as
// it flows from a connector through the ingress queue to a pipeline.
type Message struct {
	SensorID     string
	Payload      []byte
	Encoding     Encoding
	Timestamp    time.Time
	Metadata     Metadata
	PipelineHint string
}

// New constructs a Message with the creation timestamp set to now.
func New(sensorID string, payload []byte, encoding Encoding) *Message {
	return &Message{
		SensorID:  sensorID,
		Payload:   payload,
		Encoding:  encoding,
		Timestamp: time.Now().UTC(),
	}
}

// HasPipelineHint reports whether a routing hint was ever attached to this message.
func (m *Message) HasPipelineHint() bool {
	return m.PipelineHint != ""
}

// WithPipeline returns a copy of m routed to the given pipeline id. Metadata is
// deep-copied so the original and the copy never alias mutable state — re-routing
// copies, it never shares.
func (m *Message) WithPipeline(pipelineID string) *Message {
	clone := *m
	clone.Metadata = m.Metadata.Clone()
	clone.PipelineHint = pipelineID
	return &clone
}

// AgeMS returns the elapsed time in milliseconds since the message was created.
func (m *Message) AgeMS() float64 {
	return float64(time.Since(m.Timestamp).Microseconds()) / 1000.0
}
