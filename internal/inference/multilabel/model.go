package multilabel

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/klauspost/cpuid/v2"
	tflite "github.com/tphakala/go-tflite"
	"github.com/tphakala/go-tflite/delegates/xnnpack"

	"github.com/chestguard/chestguard/internal/conf"
	"github.com/chestguard/chestguard/internal/errors"
	"github.com/chestguard/chestguard/internal/logger"
)

// Classifier runs one forward pass over a preprocessed tensor.
type Classifier interface {
	Classify(input []float32) ([]float32, error)
	Close() error
}

// Model wraps a TensorFlow Lite interpreter. Invoke is serialized.
type Model struct {
	mu          sync.Mutex
	model       *tflite.Model
	options     *tflite.InterpreterOptions
	interpreter *tflite.Interpreter
	inputLen    int
}

// OpenModel loads a .tflite file and allocates its tensors.
func OpenModel(settings *conf.MultilabelSettings) (*Model, error) {
	modelData, err := os.ReadFile(settings.ModelPath)
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to read model file: %w", err)).
			Category(errors.CategoryModelLoad).
			ModelContext(settings.ModelPath, "multilabel").
			Build()
	}

	model := tflite.NewModel(modelData)
	if model == nil {
		return nil, errors.New(fmt.Errorf("cannot load TensorFlow Lite model")).
			Category(errors.CategoryModelInit).
			ModelContext(settings.ModelPath, "multilabel").
			Context("model_size_mb", len(modelData)/1024/1024).
			Build()
	}

	threads := determineThreadCount(settings.Threads)
	options := tflite.NewInterpreterOptions()
	log := GetLogger()
	if settings.UseXNNPACK {
		delegate := xnnpack.New(xnnpack.DelegateOptions{NumThreads: int32(max(1, threads-1))}) //nolint:gosec // G115: bounded by CPU count
		if delegate == nil {
			log.Warn("failed to create XNNPACK delegate, falling back to default CPU")
			options.SetNumThread(threads)
		} else {
			options.AddDelegate(delegate)
			options.SetNumThread(1)
		}
	} else {
		options.SetNumThread(threads)
	}
	options.SetErrorReporter(func(msg string, _ any) {
		GetLogger().Error("TFLite error", logger.String("message", msg))
	}, nil)

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		options.Delete()
		model.Delete()
		return nil, errors.Newf("cannot create interpreter").
			Category(errors.CategoryModelInit).
			ModelContext(settings.ModelPath, "multilabel").
			Build()
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		interpreter.Delete()
		options.Delete()
		model.Delete()
		return nil, errors.Newf("tensor allocation failed: %v", status).
			Category(errors.CategoryModelInit).
			ModelContext(settings.ModelPath, "multilabel").
			Build()
	}

	input := interpreter.GetInputTensor(0)
	m := &Model{
		model:       model,
		options:     options,
		interpreter: interpreter,
		inputLen:    len(input.Float32s()),
	}

	// The model bytes were copied by TFLite.
	runtime.GC()

	log.Info("multilabel model initialized",
		logger.String("model", settings.ModelPath),
		logger.Int("threads", threads),
		logger.Bool("xnnpack", settings.UseXNNPACK),
		logger.Int("input_len", m.inputLen))
	return m, nil
}

// Classify copies input into the interpreter, invokes it and returns a copy
// of the output tensor.
func (m *Model) Classify(input []float32) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.interpreter == nil {
		return nil, fmt.Errorf("model is closed")
	}
	if len(input) != m.inputLen {
		return nil, fmt.Errorf("input length %d does not match model input %d", len(input), m.inputLen)
	}

	inputTensor := m.interpreter.GetInputTensor(0)
	if inputTensor == nil {
		return nil, fmt.Errorf("cannot get input tensor")
	}
	copy(inputTensor.Float32s(), input)

	if status := m.interpreter.Invoke(); status != tflite.OK {
		return nil, fmt.Errorf("tensor invoke failed: %v", status)
	}

	outputTensor := m.interpreter.GetOutputTensor(0)
	predSize := outputTensor.Dim(outputTensor.NumDims() - 1)
	out := make([]float32, predSize)
	copy(out, outputTensor.Float32s())
	return out, nil
}

// Close releases the interpreter.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.interpreter != nil {
		m.interpreter.Delete()
		m.options.Delete()
		m.model.Delete()
		m.interpreter = nil
	}
	return nil
}

// determineThreadCount returns configured threads bounded by the CPU count,
// or the physical core count when configured is 0.
func determineThreadCount(configured int) int {
	systemCPUCount := runtime.NumCPU()
	if configured <= 0 {
		if cores := cpuid.CPU.PhysicalCores; cores > 0 {
			return min(cores, systemCPUCount)
		}
		return systemCPUCount
	}
	return min(configured, systemCPUCount)
}
