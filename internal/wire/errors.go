package wire

import "errors"

var (
	// ErrBadMagic is returned when a request frame does not start with the
	// expected magic bytes. Response frames carry no magic.
	ErrBadMagic = errors.New("wire: bad magic bytes")
	// ErrBadVersion is returned when a frame's protocol version is unsupported.
	ErrBadVersion = errors.New("wire: unsupported protocol version")
	// ErrUnsupportedDtype is returned when a tensor descriptor names an unknown dtype.
	ErrUnsupportedDtype = errors.New("wire: unsupported tensor dtype")
	// ErrMalformedTensor is returned when a tensor's raw byte length does not
	// match what its dtype and dimensions imply.
	ErrMalformedTensor = errors.New("wire: malformed tensor descriptor")
	// ErrTruncatedFrame is returned when a frame body ends before a declared
	// field can be fully read.
	ErrTruncatedFrame = errors.New("wire: truncated frame")
	// ErrFrameTooLarge guards against a hostile or corrupt length prefix.
	ErrFrameTooLarge = errors.New("wire: frame exceeds maximum size")
)
