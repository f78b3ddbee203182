package wire

import "fmt"

// DType is the closed set of tensor element types the gateway protocol carries.
type DType uint8

const (
	DTypeFloat32 DType = 0
	DTypeFloat16 DType = 1
	DTypeInt8    DType = 2
	DTypeInt32   DType = 3
)

func (d DType) String() string {
	switch d {
	case DTypeFloat32:
		return "float32"
	case DTypeFloat16:
		return "float16"
	case DTypeInt8:
		return "int8"
	case DTypeInt32:
		return "int32"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(d))
	}
}

// ElemSize returns the byte width of one element of the given dtype.
func (d DType) ElemSize() (int, error) {
	switch d {
	case DTypeFloat32, DTypeInt32:
		return 4, nil
	case DTypeFloat16:
		return 2, nil
	case DTypeInt8:
		return 1, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedDtype, uint8(d))
	}
}

// Tensor is the (dtype, rank, dimensions, contiguous bytes) tuple the wire codec
// moves in and out of request/response frames. Raw is the row-major byte image
// of the array; its length must equal the product of Dims times the dtype's
// element size.
type Tensor struct {
	DType DType
	Dims  []int32
	Raw   []byte
}

// NumElements returns the product of the tensor's dimensions.
func (t Tensor) NumElements() int64 {
	var n int64 = 1
	for _, d := range t.Dims {
		n *= int64(d)
	}
	return n
}

// Validate checks that Raw's length matches what Dims and DType imply. This is
// enforced on decode (untrusted bytes from the wire) and skipped on encode,
// where preprocess already built Raw in-tree.
func (t Tensor) Validate() error {
	elemSize, err := t.DType.ElemSize()
	if err != nil {
		return err
	}
	want := t.NumElements() * int64(elemSize)
	if int64(len(t.Raw)) != want {
		return fmt.Errorf("%w: dtype=%s dims=%v implies %d bytes, got %d",
			ErrMalformedTensor, t.DType, t.Dims, want, len(t.Raw))
	}
	return nil
}
