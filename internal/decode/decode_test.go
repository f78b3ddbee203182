package decode

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeinfer/orchestrator/internal/message"
)

func TestPayloadJSON(t *testing.T) {
	msg := message.New("s1", []byte(`{"a":1.0,"b":2.0}`), message.EncodingJSON)
	v, err := Payload(msg)
	require.NoError(t, err)
	m := v.(map[string]any)
	assert.Equal(t, 1.0, m["a"])
}

func TestPayloadJPEGPassesBytesThrough(t *testing.T) {
	raw := []byte{0xff, 0xd8, 0xff, 0xd9}
	msg := message.New("s1", raw, message.EncodingJPEG)
	v, err := Payload(msg)
	require.NoError(t, err)
	assert.Equal(t, raw, v)
}

func TestPayloadBase64Decodes(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte("hello"))
	msg := message.New("s1", []byte(encoded), message.EncodingBase64)
	v, err := Payload(msg)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), v)
}

func TestPayloadRawPassesThrough(t *testing.T) {
	raw := []byte{1, 2, 3}
	msg := message.New("s1", raw, message.EncodingRaw)
	v, err := Payload(msg)
	require.NoError(t, err)
	assert.Equal(t, raw, v)
}

func buildNPY(t *testing.T, descr string, shape []int, data []byte) []byte {
	t.Helper()
	shapeStr := ""
	for i, s := range shape {
		if i > 0 {
			shapeStr += ", "
		}
		shapeStr += string(rune('0' + s))
	}
	header := "{'descr': '" + descr + "', 'fortran_order': False, 'shape': (" + shapeStr + ",), }"
	for (len(header)+10+1)%64 != 0 {
		header += " "
	}
	header += "\n"

	var buf bytes.Buffer
	buf.WriteString("\x93NUMPY")
	buf.Write([]byte{1, 0})
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(header)))
	buf.Write(lenBuf[:])
	buf.WriteString(header)
	buf.Write(data)
	return buf.Bytes()
}

func TestPayloadNPZDecodesNamedArrays(t *testing.T) {
	data := make([]byte, 3*4)
	for i := 0; i < 3; i++ {
		binary.LittleEndian.PutUint32(data[i*4:], uint32(i))
	}
	npy := buildNPY(t, "<f4", []int{3}, data)

	var zipBuf bytes.Buffer
	zw := zip.NewWriter(&zipBuf)
	w, err := zw.Create("arr_0.npy")
	require.NoError(t, err)
	_, err = w.Write(npy)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	msg := message.New("s1", zipBuf.Bytes(), message.EncodingNPZ)
	v, err := Payload(msg)
	require.NoError(t, err)

	arrays := v.(map[string]NDArray)
	require.Contains(t, arrays, "arr_0")
	assert.Equal(t, []int{3}, arrays["arr_0"].Shape)
	assert.Equal(t, "<f4", arrays["arr_0"].Dtype)
	assert.Len(t, arrays["arr_0"].Data, 12)
}
