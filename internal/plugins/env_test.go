package plugins

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeinfer/orchestrator/internal/message"
	"github.com/edgeinfer/orchestrator/internal/wire"
)

func float32Blob(values ...float32) []byte {
	buf := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func TestVectorToTensorSortsObjectKeys(t *testing.T) {
	msg := message.New("env-1", nil, message.EncodingJSON)
	intermediate := map[string]any{"c": 3.0, "a": 1.0, "b": 2.0}

	tensors, err := VectorToTensor(msg, intermediate)
	require.NoError(t, err)
	require.Len(t, tensors, 1)

	tensor := tensors[0]
	assert.Equal(t, []int32{1, 3}, tensor.Dims)
	require.NoError(t, tensor.Validate())

	got := make([]float32, 3)
	for i := range got {
		got[i] = math.Float32frombits(binary.LittleEndian.Uint32(tensor.Raw[i*4:]))
	}
	assert.Equal(t, []float32{1.0, 2.0, 3.0}, got)
}

func TestVectorToTensorSkipsNonNumericObjectValues(t *testing.T) {
	msg := message.New("env-1", nil, message.EncodingJSON)
	_, err := VectorToTensor(msg, map[string]any{"x": "not-a-number"})
	// Non-numeric values are simply skipped, not an error, matching the
	// source's isinstance(..., (int, float)) filter.
	require.NoError(t, err)
}

func TestVectorPassthroughDecodesBlob(t *testing.T) {
	msg := message.New("tests/env", nil, message.EncodingJSON)
	resp := wire.Response{Outputs: [][]byte{float32Blob(0.1, 0.2, 0.7)}}

	out, err := VectorPassthrough(resp, msg)
	require.NoError(t, err)

	m := out.(map[string]any)
	assert.Equal(t, "tests/env", m["sensor"])
	vec := m["vector"].([]float32)
	require.Len(t, vec, 3)
	assert.InDelta(t, 0.7, vec[2], 1e-6)
}

func TestSoftmaxTopKReturnsHighestConfidenceFirst(t *testing.T) {
	msg := message.New("env-1", nil, message.EncodingJSON)
	resp := wire.Response{Outputs: [][]byte{float32Blob(0.1, 5.0, 0.2, 0.3)}}

	out, err := SoftmaxTopK(resp, msg)
	require.NoError(t, err)

	results := out.([]map[string]any)
	require.Len(t, results, 3)
	assert.Equal(t, 1, results[0]["index"])
}
