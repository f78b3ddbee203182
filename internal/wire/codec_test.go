package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTensor() Tensor {
	raw := make([]byte, 2*3*4) // float32, dims [2,3]
	for i := range raw {
		raw[i] = byte(i)
	}
	return Tensor{DType: DTypeFloat32, Dims: []int32{2, 3}, Raw: raw}
}

func TestRequestRoundTrip(t *testing.T) {
	req := Request{Model: "yolov8n", Tensors: []Tensor{sampleTensor()}}

	body, err := MarshalRequest(req)
	require.NoError(t, err)

	got, err := UnmarshalRequest(body)
	require.NoError(t, err)

	assert.Equal(t, req.Model, got.Model)
	require.Len(t, got.Tensors, 1)
	assert.Equal(t, req.Tensors[0].DType, got.Tensors[0].DType)
	assert.Equal(t, req.Tensors[0].Dims, got.Tensors[0].Dims)
	assert.Equal(t, req.Tensors[0].Raw, got.Tensors[0].Raw)
}

func TestRequestRejectsBadMagic(t *testing.T) {
	req := Request{Model: "m", Tensors: nil}
	body, err := MarshalRequest(req)
	require.NoError(t, err)
	body[0] = 'X'

	_, err = UnmarshalRequest(body)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestRequestRejectsBadVersion(t *testing.T) {
	req := Request{Model: "m", Tensors: nil}
	body, err := MarshalRequest(req)
	require.NoError(t, err)
	body[4] = 0xFF

	_, err = UnmarshalRequest(body)
	assert.ErrorIs(t, err, ErrBadVersion)
}

func TestRequestRejectsTruncatedTensorBody(t *testing.T) {
	req := Request{Model: "m", Tensors: []Tensor{sampleTensor()}}
	body, err := MarshalRequest(req)
	require.NoError(t, err)

	_, err = UnmarshalRequest(body[:len(body)-4])
	assert.ErrorIs(t, err, ErrTruncatedFrame)
}

func TestResponseRoundTrip(t *testing.T) {
	resp := Response{ReqID: 42, Status: 0, Outputs: [][]byte{{1, 2, 3}, {}, {9}}}

	body, err := MarshalResponse(resp)
	require.NoError(t, err)

	got, err := UnmarshalResponse(body)
	require.NoError(t, err)
	assert.Equal(t, resp, got)
}

func TestResponseRejectsOversizedOutputLength(t *testing.T) {
	resp := Response{ReqID: 1, Status: 0, Outputs: [][]byte{{1, 2, 3}}}
	body, err := MarshalResponse(resp)
	require.NoError(t, err)

	// Corrupt the declared length of the single output to exceed what's present.
	body[12] = 0xFF

	_, err = UnmarshalResponse(body)
	assert.ErrorIs(t, err, ErrTruncatedFrame)
}

func TestWriteReadRequestOverStream(t *testing.T) {
	var buf bytes.Buffer
	req := Request{Model: "yolov8n", Tensors: []Tensor{sampleTensor()}}

	require.NoError(t, WriteRequest(&buf, req))

	got, err := ReadRequest(&buf)
	require.NoError(t, err)
	assert.Equal(t, req.Model, got.Model)
	assert.Equal(t, 0, buf.Len(), "reader should consume exactly one frame")
}

func TestWriteReadResponseOverStream(t *testing.T) {
	var buf bytes.Buffer
	resp := Response{ReqID: 7, Status: 0, Outputs: [][]byte{{5, 6, 7}}}

	require.NoError(t, WriteResponse(&buf, resp))

	got, err := ReadResponse(&buf)
	require.NoError(t, err)
	assert.Equal(t, resp, got)
}

func TestReadFramedRejectsOversizedPrefix(t *testing.T) {
	var buf bytes.Buffer
	prefix := make([]byte, 4)
	// 0x11000000 bytes = 272 MiB, over MaxFrameSize.
	for i, b := range []byte{0, 0, 0, 0x11} {
		prefix[i] = b
	}
	buf.Write(prefix)

	_, err := readFramed(&buf)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestTensorValidateRejectsMismatchedLength(t *testing.T) {
	tensor := Tensor{DType: DTypeFloat32, Dims: []int32{2, 2}, Raw: []byte{1, 2, 3}}
	err := tensor.Validate()
	assert.ErrorIs(t, err, ErrMalformedTensor)
}
