// Copyright 2026 Caprock Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backends

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXSessionFactory creates sessions backed by ONNX Runtime.
//
// Runtime requirements:
//   - CGO_ENABLED=1 at build time
//   - libonnxruntime available at run time; set ONNXRUNTIME_ROOT or
//     LD_LIBRARY_PATH to the directory containing it
//
// The ONNX Runtime environment is process-wide and initialized once on the
// first CreateSession call; it is never torn down while sessions exist.
type ONNXSessionFactory struct{}

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// initRuntime initializes the ONNX Runtime library exactly once.
func initRuntime() error {
	ortInitOnce.Do(func() {
		if libPath := onnxLibraryPath(); libPath != "" {
			ort.SetSharedLibraryPath(filepath.Join(libPath, onnxLibraryName()))
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// CreateSession loads an ONNX model file and prepares a dynamic session.
// Input and output names are discovered from the model file so callers do
// not hard-code them.
func (f *ONNXSessionFactory) CreateSession(modelPath string, opts ...SessionOption) (Session, error) {
	if err := initRuntime(); err != nil {
		return nil, fmt.Errorf("initializing ONNX runtime: %w", err)
	}

	cfg := ApplySessionOptions(opts...)

	inputInfo, outputInfo, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("reading model metadata from %s: %w", modelPath, err)
	}
	if len(inputInfo) == 0 || len(outputInfo) == 0 {
		return nil, fmt.Errorf("model %s declares no inputs or outputs", modelPath)
	}

	inputs := make([]TensorInfo, len(inputInfo))
	inputNames := make([]string, len(inputInfo))
	for i, info := range inputInfo {
		inputs[i] = TensorInfo{Name: info.Name, Shape: append([]int64{}, info.Dimensions...)}
		inputNames[i] = info.Name
	}
	outputs := make([]TensorInfo, len(outputInfo))
	outputNames := make([]string, len(outputInfo))
	for i, info := range outputInfo {
		outputs[i] = TensorInfo{Name: info.Name, Shape: append([]int64{}, info.Dimensions...)}
		outputNames[i] = info.Name
	}

	var options *ort.SessionOptions
	if cfg.NumThreads > 0 {
		options, err = ort.NewSessionOptions()
		if err != nil {
			return nil, fmt.Errorf("creating session options: %w", err)
		}
		defer func() { _ = options.Destroy() }()
		if err := options.SetIntraOpNumThreads(cfg.NumThreads); err != nil {
			return nil, fmt.Errorf("setting intra-op threads: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, outputNames, options)
	if err != nil {
		return nil, fmt.Errorf("creating ONNX session for %s: %w", modelPath, err)
	}

	return &onnxSession{
		session: session,
		inputs:  inputs,
		outputs: outputs,
	}, nil
}

// onnxSession implements Session over an ONNX Runtime dynamic session.
type onnxSession struct {
	session *ort.DynamicAdvancedSession
	inputs  []TensorInfo
	outputs []TensorInfo
}

func (s *onnxSession) InputInfo() []TensorInfo {
	return s.inputs
}

func (s *onnxSession) OutputInfo() []TensorInfo {
	return s.outputs
}

// Run converts the named inputs to ONNX Runtime tensors, executes the model,
// and copies the outputs back out. Inputs are matched to the model's
// declared inputs by name, in any order.
func (s *onnxSession) Run(inputs []NamedTensor) ([]NamedTensor, error) {
	if len(inputs) != len(s.inputs) {
		return nil, fmt.Errorf("model expects %d inputs, got %d", len(s.inputs), len(inputs))
	}

	ortInputs := make([]ort.Value, len(s.inputs))
	defer func() {
		for _, v := range ortInputs {
			if v != nil {
				_ = v.Destroy()
			}
		}
	}()

	for _, in := range inputs {
		pos := -1
		for i, declared := range s.inputs {
			if declared.Name == in.Name {
				pos = i
				break
			}
		}
		if pos == -1 {
			return nil, fmt.Errorf("model declares no input named %q", in.Name)
		}
		if ortInputs[pos] != nil {
			return nil, fmt.Errorf("input %q supplied twice", in.Name)
		}

		shape := ort.NewShape(in.Shape...)
		var (
			tensor ort.Value
			err    error
		)
		switch data := in.Data.(type) {
		case []float32:
			tensor, err = ort.NewTensor(shape, data)
		case []int64:
			tensor, err = ort.NewTensor(shape, data)
		default:
			return nil, fmt.Errorf("unsupported tensor data type %T for input %q", in.Data, in.Name)
		}
		if err != nil {
			return nil, fmt.Errorf("creating tensor for input %q: %w", in.Name, err)
		}
		ortInputs[pos] = tensor
	}

	ortOutputs := make([]ort.Value, len(s.outputs))
	if err := s.session.Run(ortInputs, ortOutputs); err != nil {
		return nil, fmt.Errorf("running session: %w", err)
	}
	defer func() {
		for _, v := range ortOutputs {
			if v != nil {
				_ = v.Destroy()
			}
		}
	}()

	results := make([]NamedTensor, len(ortOutputs))
	for i, out := range ortOutputs {
		result := NamedTensor{Name: s.outputs[i].Name}
		switch t := out.(type) {
		case *ort.Tensor[float32]:
			result.Shape = append([]int64{}, t.GetShape()...)
			result.Data = append([]float32{}, t.GetData()...)
		case *ort.Tensor[int64]:
			result.Shape = append([]int64{}, t.GetShape()...)
			result.Data = append([]int64{}, t.GetData()...)
		default:
			return nil, fmt.Errorf("unsupported output tensor type %T for %q", out, s.outputs[i].Name)
		}
		results[i] = result
	}

	return results, nil
}

func (s *onnxSession) Close() error {
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	if err != nil {
		return fmt.Errorf("destroying session: %w", err)
	}
	return nil
}

// onnxLibraryPath returns the directory containing the ONNX Runtime shared
// library. Checks ONNXRUNTIME_ROOT first, then LD_LIBRARY_PATH.
func onnxLibraryPath() string {
	if root := os.Getenv("ONNXRUNTIME_ROOT"); root != "" {
		dir := filepath.Join(root, "lib")
		if _, err := os.Stat(filepath.Join(dir, onnxLibraryName())); err == nil {
			return dir
		}
	}

	if ldPath := os.Getenv("LD_LIBRARY_PATH"); ldPath != "" {
		for _, dir := range filepath.SplitList(ldPath) {
			if _, err := os.Stat(filepath.Join(dir, onnxLibraryName())); err == nil {
				return dir
			}
		}
	}

	return ""
}

// onnxLibraryName returns the platform-specific library name.
func onnxLibraryName() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}
