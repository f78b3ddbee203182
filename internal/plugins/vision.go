package plugins

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"sort"

	"github.com/edgeinfer/orchestrator/internal/message"
	"github.com/edgeinfer/orchestrator/internal/wire"
)

const yoloInputSize = 640

// JPEGToYOLOv5 decodes a JPEG payload, letterboxes it to a square model input,
// and yields a single (1,3,640,640) float16 tensor normalized to [0,1].
// Letterbox parameters and the original dimensions are left on the message's
// metadata for YOLONMS to map detections back to image coordinates.
func JPEGToYOLOv5(msg *message.Message, intermediate any) ([]wire.Tensor, error) {
	payload, ok := intermediate.([]byte)
	if !ok {
		return nil, fmt.Errorf("vision: jpeg preprocess expects []byte payload, got %T", intermediate)
	}

	img, err := jpeg.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("vision: decode jpeg: %w", err)
	}

	rgb, w, h := toRGBBytes(img)
	msg.Metadata.ImageWidth = w
	msg.Metadata.ImageHeight = h

	letterboxed, lb := letterbox(rgb, w, h, yoloInputSize)
	msg.Metadata.Letterbox = message.Letterbox{
		Gain: lb.gain, PadW: lb.padW, PadH: lb.padH,
		Height: h, Width: w,
	}

	raw := rgbToCHWFloat16(letterboxed, yoloInputSize, yoloInputSize)
	return []wire.Tensor{{
		DType: wire.DTypeFloat16,
		Dims:  []int32{1, 3, yoloInputSize, yoloInputSize},
		Raw:   raw,
	}}, nil
}

// BGRFrameToYOLOv5 takes a raw BGR frame (as camera connectors produce) whose
// height and width were recorded on message.Metadata.ImageHeight and
// ImageWidth (3 bytes per pixel), reverses
// channel order to RGB, and runs the same letterbox pipeline as
// JPEGToYOLOv5.
func BGRFrameToYOLOv5(msg *message.Message, intermediate any) ([]wire.Tensor, error) {
	payload, ok := intermediate.([]byte)
	if !ok {
		return nil, fmt.Errorf("vision: bgr preprocess expects []byte payload, got %T", intermediate)
	}

	h := msg.Metadata.ImageHeight
	w := msg.Metadata.ImageWidth
	if h == 0 || w == 0 {
		return nil, fmt.Errorf("vision: camera frame shape missing from metadata")
	}
	if len(payload) != h*w*3 {
		return nil, fmt.Errorf("vision: frame payload length %d does not match %dx%dx3", len(payload), h, w)
	}

	rgb := make([]byte, len(payload))
	for i := 0; i < h*w; i++ {
		rgb[i*3+0] = payload[i*3+2] // R <- B
		rgb[i*3+1] = payload[i*3+1] // G
		rgb[i*3+2] = payload[i*3+0] // B <- R
	}

	letterboxed, lb := letterbox(rgb, w, h, yoloInputSize)
	msg.Metadata.Letterbox = message.Letterbox{
		Gain: lb.gain, PadW: lb.padW, PadH: lb.padH,
		Height: h, Width: w,
	}

	raw := rgbToCHWFloat16(letterboxed, yoloInputSize, yoloInputSize)
	return []wire.Tensor{{
		DType: wire.DTypeFloat16,
		Dims:  []int32{1, 3, yoloInputSize, yoloInputSize},
		Raw:   raw,
	}}, nil
}

// Detection is one postprocessed YOLO bounding box in original image coordinates.
type Detection struct {
	Label      int       `json:"label"`
	Confidence float64   `json:"confidence"`
	BBox       [4]float64 `json:"bbox"`
}

// YOLONMS decodes the gateway's single (1, N, 85) float16 output blob, applies
// objectness/class-confidence thresholding and non-max suppression, and maps
// surviving boxes back to original image coordinates using the letterbox
// parameters JPEGToYOLOv5/BGRFrameToYOLOv5 left on the message.
func YOLONMS(resp wire.Response, msg *message.Message) (any, error) {
	const confThreshold = 0.25
	const iouThreshold = 0.45
	const numAttrs = 85

	if len(resp.Outputs) == 0 {
		return nil, fmt.Errorf("vision: response has no output blobs")
	}
	preds := decodeFloat16Blob(resp.Outputs[0])
	if len(preds)%numAttrs != 0 {
		return nil, fmt.Errorf("vision: output length %d is not a multiple of %d", len(preds), numAttrs)
	}
	numBoxes := len(preds) / numAttrs

	type candidate struct {
		x, y, w, h float64
		conf       float64
		label      int
	}
	var candidates []candidate
	for i := 0; i < numBoxes; i++ {
		row := preds[i*numAttrs : (i+1)*numAttrs]
		objConf := sigmoid(row[4])
		bestClass, bestScore := 0, math.Inf(-1)
		for c := 5; c < numAttrs; c++ {
			s := sigmoid(row[c])
			if s > bestScore {
				bestScore, bestClass = s, c-5
			}
		}
		conf := objConf * bestScore
		if conf < confThreshold {
			continue
		}
		candidates = append(candidates, candidate{
			x: float64(row[0]), y: float64(row[1]), w: float64(row[2]), h: float64(row[3]),
			conf: conf, label: bestClass,
		})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].conf > candidates[j].conf })

	type box struct{ x1, y1, x2, y2 float64 }
	boxes := make([]box, len(candidates))
	for i, c := range candidates {
		boxes[i] = box{
			x1: c.x - c.w/2, y1: c.y - c.h/2,
			x2: c.x + c.w/2, y2: c.y + c.h/2,
		}
	}

	keep := make([]bool, len(candidates))
	for i := range keep {
		keep[i] = true
	}
	for i := 0; i < len(candidates); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(candidates); j++ {
			if !keep[j] {
				continue
			}
			if iou(boxes[i], boxes[j]) >= iouThreshold {
				keep[j] = false
			}
		}
	}

	gain, padW, padH := msg.Metadata.Letterbox.Gain, msg.Metadata.Letterbox.PadW, msg.Metadata.Letterbox.PadH
	if gain == 0 {
		gain = 1
	}
	imgW, imgH := float64(msg.Metadata.ImageWidth), float64(msg.Metadata.ImageHeight)

	var detections []Detection
	for i, c := range candidates {
		if !keep[i] {
			continue
		}
		x1 := clamp((boxes[i].x1-padW)/gain, 0, imgW)
		x2 := clamp((boxes[i].x2-padW)/gain, 0, imgW)
		y1 := clamp((boxes[i].y1-padH)/gain, 0, imgH)
		y2 := clamp((boxes[i].y2-padH)/gain, 0, imgH)
		detections = append(detections, Detection{
			Label: c.label, Confidence: c.conf,
			BBox: [4]float64{x1, y1, x2, y2},
		})
	}

	var imageBlob any
	if msg.Encoding == message.EncodingJPEG {
		imageBlob = msg.Payload
	}

	return map[string]any{
		"detections": detections,
		"image":      imageBlob,
		"sensor":     msg.SensorID,
		"encoding":   string(msg.Encoding),
	}, nil
}

func sigmoid(x float32) float64 {
	return 1.0 / (1.0 + math.Exp(-float64(x)))
}

func iou(a, b struct{ x1, y1, x2, y2 float64 }) float64 {
	ix1, iy1 := math.Max(a.x1, b.x1), math.Max(a.y1, b.y1)
	ix2, iy2 := math.Min(a.x2, b.x2), math.Min(a.y2, b.y2)
	interW, interH := math.Max(0, ix2-ix1), math.Max(0, iy2-iy1)
	inter := interW * interH
	areaA := (a.x2 - a.x1) * (a.y2 - a.y1)
	areaB := (b.x2 - b.x1) * (b.y2 - b.y1)
	return inter / (areaA + areaB - inter + 1e-6)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// toRGBBytes flattens a decoded image into row-major RGB bytes.
func toRGBBytes(img image.Image) ([]byte, int, int) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := make([]byte, w*h*3)
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			out[i+0] = byte(r >> 8)
			out[i+1] = byte(g >> 8)
			out[i+2] = byte(b >> 8)
			i += 3
		}
	}
	return out, w, h
}

type letterboxParams struct {
	gain, padW, padH float64
}

// letterbox resizes an RGB image to fit within newSize x newSize, preserving
// aspect ratio, and pads the remainder with gray (114,114,114), matching the
// scale-then-center-pad convention the YOLO family trains against.
func letterbox(src []byte, srcW, srcH, newSize int) ([]byte, letterboxParams) {
	gain := math.Min(float64(newSize)/float64(srcH), float64(newSize)/float64(srcW))
	newW := int(math.Round(float64(srcW) * gain))
	newH := int(math.Round(float64(srcH) * gain))
	padW := float64(newSize-newW) / 2
	padH := float64(newSize-newH) / 2

	resized := resizeBilinearRGB(src, srcW, srcH, newW, newH)

	dst := make([]byte, newSize*newSize*3)
	for i := 0; i < len(dst); i += 3 {
		dst[i], dst[i+1], dst[i+2] = 114, 114, 114
	}
	offX, offY := int(math.Round(padW)), int(math.Round(padH))
	for y := 0; y < newH; y++ {
		srcRow := resized[y*newW*3 : (y+1)*newW*3]
		dstOff := ((y+offY)*newSize + offX) * 3
		copy(dst[dstOff:dstOff+newW*3], srcRow)
	}

	return dst, letterboxParams{gain: gain, padW: padW, padH: padH}
}

func resizeBilinearRGB(src []byte, srcW, srcH, dstW, dstH int) []byte {
	if dstW == srcW && dstH == srcH {
		out := make([]byte, len(src))
		copy(out, src)
		return out
	}
	out := make([]byte, dstW*dstH*3)
	xRatio := float64(srcW) / float64(dstW)
	yRatio := float64(srcH) / float64(dstH)

	for dy := 0; dy < dstH; dy++ {
		sy := (float64(dy) + 0.5) * yRatio - 0.5
		y0 := int(math.Floor(sy))
		y1 := y0 + 1
		wy := sy - float64(y0)
		y0 = clampInt(y0, 0, srcH-1)
		y1 = clampInt(y1, 0, srcH-1)

		for dx := 0; dx < dstW; dx++ {
			sx := (float64(dx) + 0.5) * xRatio - 0.5
			x0 := int(math.Floor(sx))
			x1 := x0 + 1
			wx := sx - float64(x0)
			x0 = clampInt(x0, 0, srcW-1)
			x1 = clampInt(x1, 0, srcW-1)

			for c := 0; c < 3; c++ {
				p00 := float64(src[(y0*srcW+x0)*3+c])
				p01 := float64(src[(y0*srcW+x1)*3+c])
				p10 := float64(src[(y1*srcW+x0)*3+c])
				p11 := float64(src[(y1*srcW+x1)*3+c])
				top := p00*(1-wx) + p01*wx
				bot := p10*(1-wx) + p11*wx
				val := top*(1-wy) + bot*wy
				out[(dy*dstW+dx)*3+c] = byte(clamp(val, 0, 255))
			}
		}
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// rgbToCHWFloat16 normalizes interleaved RGB bytes to [0,1] float16 in
// channel-first layout.
func rgbToCHWFloat16(rgb []byte, w, h int) []byte {
	out := make([]byte, w*h*3*2)
	plane := w * h
	for i := 0; i < plane; i++ {
		r := float32(rgb[i*3+0]) / 255.0
		g := float32(rgb[i*3+1]) / 255.0
		b := float32(rgb[i*3+2]) / 255.0
		binary.LittleEndian.PutUint16(out[i*2:], float32ToFloat16(r))
		binary.LittleEndian.PutUint16(out[(plane+i)*2:], float32ToFloat16(g))
		binary.LittleEndian.PutUint16(out[(2*plane+i)*2:], float32ToFloat16(b))
	}
	return out
}

func decodeFloat16Blob(blob []byte) []float32 {
	n := len(blob) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint16(blob[i*2:])
		out[i] = float16ToFloat32(bits)
	}
	return out
}

// float32ToFloat16 converts an IEEE-754 single precision float to its
// half-precision bit pattern. No half-float library was found anywhere in the
// retrieval pack, so this implements round-to-nearest-even conversion
// directly. Values too small for a normal half-precision number become a
// signed zero.
func float32ToFloat16(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16((bits >> 16) & 0x8000)
	exp := int32((bits>>23)&0xff) - 127 + 15
	mant := bits & 0x7fffff

	switch {
	case exp <= 0:
		return sign
	case exp >= 0x1f:
		return sign | 0x7c00
	default:
		half := uint32(sign) | uint32(exp)<<10 | mant>>13
		if rem := mant & 0x1fff; rem > 0x1000 || (rem == 0x1000 && half&1 == 1) {
			half++ // a carry into the exponent is still the correctly rounded value
		}
		return uint16(half)
	}
}

func float16ToFloat32(bits uint16) float32 {
	sign := uint32(bits&0x8000) << 16
	exp := (bits >> 10) & 0x1f
	mant := uint32(bits & 0x3ff)

	if exp == 0 {
		if mant == 0 {
			return math.Float32frombits(sign)
		}
		// Subnormal half -> normalized float32.
		for mant&0x400 == 0 {
			mant <<= 1
			exp--
		}
		exp++
		mant &= 0x3ff
	} else if exp == 0x1f {
		return math.Float32frombits(sign | 0x7f800000 | (mant << 13))
	}

	exp32 := uint32(int32(exp) - 15 + 127)
	return math.Float32frombits(sign | (exp32 << 23) | (mant << 13))
}
