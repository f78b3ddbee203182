package plugins

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/edgeinfer/orchestrator/internal/message"
	"github.com/edgeinfer/orchestrator/internal/wire"
)

// VectorToTensor turns a decoded JSON object or array of numbers into a single
// (1, n) float32 tensor, sorting object keys so the feature order is stable.
func VectorToTensor(_ *message.Message, intermediate any) ([]wire.Tensor, error) {
	var values []float64

	switch v := intermediate.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if f, ok := asFloat(v[k]); ok {
				values = append(values, f)
			}
		}
	case []any:
		for _, elem := range v {
			f, ok := asFloat(elem)
			if !ok {
				return nil, fmt.Errorf("env: non-numeric element in vector payload")
			}
			values = append(values, f)
		}
	default:
		return nil, fmt.Errorf("env: payload must be a JSON object or array of numbers, got %T", intermediate)
	}

	raw := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(float32(v)))
	}

	return []wire.Tensor{{
		DType: wire.DTypeFloat32,
		Dims:  []int32{1, int32(len(values))},
		Raw:   raw,
	}}, nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

// VectorPassthrough decodes the gateway's single float32 output blob into a
// plain vector, pairing it with the originating sensor id.
func VectorPassthrough(resp wire.Response, msg *message.Message) (any, error) {
	vec, err := decodeFloat32Blob(resp)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"sensor": msg.SensorID,
		"vector": vec,
	}, nil
}

// SoftmaxTopK applies softmax to the gateway's single float32 logits blob and
// returns the 3 highest-confidence (index, confidence) pairs.
func SoftmaxTopK(resp wire.Response, msg *message.Message) (any, error) {
	return softmaxTopK(resp, msg, 3)
}

func softmaxTopK(resp wire.Response, _ *message.Message, k int) (any, error) {
	if k <= 0 {
		k = 3
	}
	logits, err := decodeFloat32Blob(resp)
	if err != nil {
		return nil, err
	}

	maxLogit := logits[0]
	for _, v := range logits {
		if v > maxLogit {
			maxLogit = v
		}
	}
	exps := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v - maxLogit))
		exps[i] = e
		sum += e
	}

	type scored struct {
		index int
		prob  float64
	}
	scores := make([]scored, len(exps))
	for i, e := range exps {
		scores[i] = scored{index: i, prob: e / sum}
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].prob > scores[j].prob })
	if k > len(scores) {
		k = len(scores)
	}

	out := make([]map[string]any, k)
	for i := 0; i < k; i++ {
		out[i] = map[string]any{"index": scores[i].index, "confidence": scores[i].prob}
	}
	return out, nil
}

func decodeFloat32Blob(resp wire.Response) ([]float32, error) {
	if len(resp.Outputs) == 0 {
		return nil, fmt.Errorf("env: response has no output blobs")
	}
	blob := resp.Outputs[0]
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("env: output blob length %d is not a multiple of 4", len(blob))
	}
	out := make([]float32, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out, nil
}
