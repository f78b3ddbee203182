// Package wire implements the length-framed binary protocol the gateway pool
// speaks to the remote inference gateway: a 32-bit little-endian length prefix
// followed by a fixed header, an inline model identifier, and an ordered list of
// tensor descriptors.
//
// This framing is specified directly from the tensor-serving protocol this
// package's client targets; it does not reuse the teacher's big-endian,
// 110-byte AOCS session header — only the Marshal/Unmarshal/ReadFrame/WriteFrame
// shape of internal/protocol/frame.go carries over.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

var requestMagic = [4]byte{'T', 'R', 'T', 0x01}

const (
	protocolVersion = uint16(1)
	requestHeaderSize = 4 /*magic*/ + 2 /*version*/ + 2 /*flags*/ + 4 /*model_len*/ + 4 /*tensor_n*/ + 4 /*reserved*/
	// MaxFrameSize guards against a corrupt or hostile length prefix forcing an
	// unbounded allocation.
	MaxFrameSize = 256 << 20
)

// Request is the (model identifier, ordered tensors) pair sent to the gateway.
type Request struct {
	Model   string
	Tensors []Tensor
}

// Response is the (status, ordered output blobs) pair the gateway returns.
// Status 0 means success; any nonzero status is a surfaced inference error.
type Response struct {
	ReqID   uint32
	Status  uint32
	Outputs [][]byte
}

// MarshalRequest serializes a request's frame body (header + model id + tensor
// descriptors), without the outer length prefix.
func MarshalRequest(req Request) ([]byte, error) {
	buf := new(bytes.Buffer)

	if err := binary.Write(buf, binary.LittleEndian, requestMagic); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, protocolVersion); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, uint16(0)); err != nil { // flags
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(req.Model))); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(req.Tensors))); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, uint32(0)); err != nil { // reserved
		return nil, err
	}
	buf.WriteString(req.Model)

	for _, t := range req.Tensors {
		if err := binary.Write(buf, binary.LittleEndian, uint8(t.DType)); err != nil {
			return nil, err
		}
		if len(t.Dims) > 255 {
			return nil, fmt.Errorf("wire: tensor rank %d exceeds one byte", len(t.Dims))
		}
		if err := binary.Write(buf, binary.LittleEndian, uint8(len(t.Dims))); err != nil {
			return nil, err
		}
		for _, d := range t.Dims {
			if err := binary.Write(buf, binary.LittleEndian, d); err != nil {
				return nil, err
			}
		}
		if err := binary.Write(buf, binary.LittleEndian, uint32(len(t.Raw))); err != nil {
			return nil, err
		}
		buf.Write(t.Raw)
	}

	return buf.Bytes(), nil
}

// UnmarshalRequest parses a request's frame body. It validates magic, version,
// and bounds on every length field before trusting it.
func UnmarshalRequest(data []byte) (Request, error) {
	if len(data) < requestHeaderSize {
		return Request{}, fmt.Errorf("%w: header needs %d bytes, have %d", ErrTruncatedFrame, requestHeaderSize, len(data))
	}
	r := bytes.NewReader(data)

	var magic [4]byte
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return Request{}, err
	}
	if magic != requestMagic {
		return Request{}, fmt.Errorf("%w: got %v", ErrBadMagic, magic)
	}

	var version, flags uint16
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return Request{}, err
	}
	if version != protocolVersion {
		return Request{}, fmt.Errorf("%w: got %d, want %d", ErrBadVersion, version, protocolVersion)
	}
	if err := binary.Read(r, binary.LittleEndian, &flags); err != nil {
		return Request{}, err
	}

	var modelLen, tensorN, reserved uint32
	if err := binary.Read(r, binary.LittleEndian, &modelLen); err != nil {
		return Request{}, err
	}
	if err := binary.Read(r, binary.LittleEndian, &tensorN); err != nil {
		return Request{}, err
	}
	if err := binary.Read(r, binary.LittleEndian, &reserved); err != nil {
		return Request{}, err
	}

	if int64(modelLen) > int64(r.Len()) {
		return Request{}, fmt.Errorf("%w: model_len %d exceeds remaining %d", ErrTruncatedFrame, modelLen, r.Len())
	}
	modelBuf := make([]byte, modelLen)
	if _, err := io.ReadFull(r, modelBuf); err != nil {
		return Request{}, err
	}

	tensors := make([]Tensor, 0, tensorN)
	for i := uint32(0); i < tensorN; i++ {
		var dtype, rank uint8
		if err := binary.Read(r, binary.LittleEndian, &dtype); err != nil {
			return Request{}, err
		}
		if err := binary.Read(r, binary.LittleEndian, &rank); err != nil {
			return Request{}, err
		}
		dims := make([]int32, rank)
		for j := range dims {
			if err := binary.Read(r, binary.LittleEndian, &dims[j]); err != nil {
				return Request{}, err
			}
		}
		var rawLen uint32
		if err := binary.Read(r, binary.LittleEndian, &rawLen); err != nil {
			return Request{}, err
		}
		if int64(rawLen) > int64(r.Len()) {
			return Request{}, fmt.Errorf("%w: tensor %d raw_len %d exceeds remaining %d", ErrTruncatedFrame, i, rawLen, r.Len())
		}
		raw := make([]byte, rawLen)
		if _, err := io.ReadFull(r, raw); err != nil {
			return Request{}, err
		}
		t := Tensor{DType: DType(dtype), Dims: dims, Raw: raw}
		if _, err := t.DType.ElemSize(); err != nil {
			return Request{}, err
		}
		if err := t.Validate(); err != nil {
			return Request{}, err
		}
		tensors = append(tensors, t)
	}

	return Request{Model: string(modelBuf), Tensors: tensors}, nil
}

// MarshalResponse serializes a response's frame body, without the length prefix.
func MarshalResponse(resp Response) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, resp.ReqID); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, resp.Status); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(resp.Outputs))); err != nil {
		return nil, err
	}
	for _, out := range resp.Outputs {
		if err := binary.Write(buf, binary.LittleEndian, uint32(len(out))); err != nil {
			return nil, err
		}
	}
	for _, out := range resp.Outputs {
		buf.Write(out)
	}
	return buf.Bytes(), nil
}

// UnmarshalResponse parses a response's frame body, bounds-checking nout and
// every out_len against the bytes actually present.
func UnmarshalResponse(data []byte) (Response, error) {
	const fixedLen = 4 + 4 + 4
	if len(data) < fixedLen {
		return Response{}, fmt.Errorf("%w: need %d bytes, have %d", ErrTruncatedFrame, fixedLen, len(data))
	}
	r := bytes.NewReader(data)

	var reqID, status, nout uint32
	if err := binary.Read(r, binary.LittleEndian, &reqID); err != nil {
		return Response{}, err
	}
	if err := binary.Read(r, binary.LittleEndian, &status); err != nil {
		return Response{}, err
	}
	if err := binary.Read(r, binary.LittleEndian, &nout); err != nil {
		return Response{}, err
	}

	if int64(nout)*4 > int64(r.Len()) {
		return Response{}, fmt.Errorf("%w: nout=%d length table exceeds remaining %d", ErrTruncatedFrame, nout, r.Len())
	}
	lens := make([]uint32, nout)
	for i := range lens {
		if err := binary.Read(r, binary.LittleEndian, &lens[i]); err != nil {
			return Response{}, err
		}
	}

	outputs := make([][]byte, nout)
	for i, l := range lens {
		if int64(l) > int64(r.Len()) {
			return Response{}, fmt.Errorf("%w: output %d len %d exceeds remaining %d", ErrTruncatedFrame, i, l, r.Len())
		}
		blob := make([]byte, l)
		if _, err := io.ReadFull(r, blob); err != nil {
			return Response{}, err
		}
		outputs[i] = blob
	}

	return Response{ReqID: reqID, Status: status, Outputs: outputs}, nil
}

// WriteRequest frames and writes a request: a 4-byte little-endian length
// prefix followed by the marshaled body.
func WriteRequest(w io.Writer, req Request) error {
	body, err := MarshalRequest(req)
	if err != nil {
		return err
	}
	return writeFramed(w, body)
}

// ReadRequest reads one length-prefixed request frame and parses its body.
func ReadRequest(r io.Reader) (Request, error) {
	body, err := readFramed(r)
	if err != nil {
		return Request{}, err
	}
	return UnmarshalRequest(body)
}

// WriteResponse frames and writes a response.
func WriteResponse(w io.Writer, resp Response) error {
	body, err := MarshalResponse(resp)
	if err != nil {
		return err
	}
	return writeFramed(w, body)
}

// ReadResponse reads one length-prefixed response frame and parses its body.
func ReadResponse(r io.Reader) (Response, error) {
	body, err := readFramed(r)
	if err != nil {
		return Response{}, err
	}
	return UnmarshalResponse(body)
}

func writeFramed(w io.Writer, body []byte) error {
	prefix := make([]byte, 4)
	binary.LittleEndian.PutUint32(prefix, uint32(len(body)))
	if _, err := w.Write(prefix); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

func readFramed(r io.Reader) ([]byte, error) {
	prefix := make([]byte, 4)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(prefix)
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}
