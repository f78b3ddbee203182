// Package plugins holds the preprocess/postprocess registration tables pipelines
// resolve their refs against, plus the built-in environmental and vision
// plugins.
//
// The source resolves these callables by dotted string at call time; here
// each plugin registers itself under a name once at program init and lookups
// fail fast at startup instead of per message, per the registration-table
// shape of pkg/plugins.Registry.
package plugins

import (
	"fmt"
	"sync"

	"github.com/edgeinfer/orchestrator/internal/message"
	"github.com/edgeinfer/orchestrator/internal/wire"
)

// PreprocessFunc turns a message and its decoded intermediate into an ordered
// tensor list, optionally annotating message.Metadata for postprocess to read.
type PreprocessFunc func(msg *message.Message, intermediate any) ([]wire.Tensor, error)

// PostprocessFunc turns a gateway response back into agent-facing data.
type PostprocessFunc func(resp wire.Response, msg *message.Message) (any, error)

// Registry is the name-keyed, fail-fast-on-duplicate table of preprocess and
// postprocess plugins.
type Registry struct {
	mu          sync.RWMutex
	preprocess  map[string]PreprocessFunc
	postprocess map[string]PostprocessFunc
}

// NewRegistry returns an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		preprocess:  make(map[string]PreprocessFunc),
		postprocess: make(map[string]PostprocessFunc),
	}
}

// NewDefaultRegistry returns a registry with every built-in plugin registered.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.mustRegisterPreprocess("env.vector_to_tensor", VectorToTensor)
	r.mustRegisterPostprocess("env.vector", VectorPassthrough)
	r.mustRegisterPostprocess("env.softmax_topk", SoftmaxTopK)
	r.mustRegisterPreprocess("vision.jpeg_to_yolov5", JPEGToYOLOv5)
	r.mustRegisterPreprocess("vision.bgr_frame_to_yolov5", BGRFrameToYOLOv5)
	r.mustRegisterPostprocess("vision.yolo_nms", YOLONMS)
	return r
}

func (r *Registry) mustRegisterPreprocess(name string, fn PreprocessFunc) {
	if err := r.RegisterPreprocess(name, fn); err != nil {
		panic(err)
	}
}

func (r *Registry) mustRegisterPostprocess(name string, fn PostprocessFunc) {
	if err := r.RegisterPostprocess(name, fn); err != nil {
		panic(err)
	}
}

// RegisterPreprocess adds a preprocess plugin under name.
func (r *Registry) RegisterPreprocess(name string, fn PreprocessFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.preprocess[name]; exists {
		return fmt.Errorf("plugins: preprocess %q already registered", name)
	}
	r.preprocess[name] = fn
	return nil
}

// RegisterPostprocess adds a postprocess plugin under name.
func (r *Registry) RegisterPostprocess(name string, fn PostprocessFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.postprocess[name]; exists {
		return fmt.Errorf("plugins: postprocess %q already registered", name)
	}
	r.postprocess[name] = fn
	return nil
}

// Preprocess resolves a pipeline's preprocess ref. Unknown names fail at
// pipeline-build time, not per message.
func (r *Registry) Preprocess(name string) (PreprocessFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.preprocess[name]
	if !ok {
		return nil, fmt.Errorf("plugins: unknown preprocess ref %q", name)
	}
	return fn, nil
}

// Postprocess resolves a pipeline's postprocess ref.
func (r *Registry) Postprocess(name string) (PostprocessFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.postprocess[name]
	if !ok {
		return nil, fmt.Errorf("plugins: unknown postprocess ref %q", name)
	}
	return fn, nil
}
