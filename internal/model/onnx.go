package model

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/Brownie44l1/moodsense/internal/emotion"
)

// ONNXProvider runs a trained emotion classifier through onnxruntime.
// Weights in the Input are ignored; the distribution comes from the pixels.
type ONNXProvider struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	Metadata     Metadata
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	// classIndex maps network output positions to emotion.All() positions.
	classIndex []int
}

// NewONNXProvider loads the model and its metadata. libraryPath may be empty
// to use the onnxruntime default lookup.
func NewONNXProvider(modelPath, metadataPath, libraryPath string) (*ONNXProvider, error) {
	metadata, err := LoadMetadata(metadataPath)
	if err != nil {
		return nil, err
	}

	classIndex, err := mapClasses(metadata.Classes)
	if err != nil {
		return nil, err
	}

	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{metadata.InputName}, []string{metadata.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXProvider{
		session:      session,
		Metadata:     metadata,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		classIndex:   classIndex,
	}, nil
}

// LoadMetadata reads and validates a model metadata file.
func LoadMetadata(path string) (Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	var metadata Metadata
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if metadata.ImageSize <= 0 {
		return Metadata{}, fmt.Errorf("metadata image_size must be positive, got %d", metadata.ImageSize)
	}
	if metadata.InputName == "" {
		metadata.InputName = "input"
	}
	if metadata.OutputName == "" {
		metadata.OutputName = "output"
	}
	return metadata, nil
}

// mapClasses resolves each output class name to its category position, or
// -1 for classes outside the set.
func mapClasses(classes []string) ([]int, error) {
	index := make([]int, len(classes))
	matched := 0
	for i, name := range classes {
		index[i] = -1
		if c, ok := emotion.Parse(name); ok {
			index[i] = emotion.Index(c)
			matched++
		}
	}
	if matched == 0 {
		return nil, fmt.Errorf("metadata classes %v match no emotion category", classes)
	}
	return index, nil
}

// Distribution implements ScoreProvider.
func (p *ONNXProvider) Distribution(ctx context.Context, in Input) ([]float64, error) {
	if in.Image == nil {
		return nil, ErrNoImage
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inputData := Preprocess(in.Image, p.Metadata.ImageSize)

	p.mu.Lock()
	defer p.mu.Unlock()

	dst := p.inputTensor.GetData()
	if len(inputData) != len(dst) {
		return nil, fmt.Errorf("expected %d input values, got %d", len(dst), len(inputData))
	}
	copy(dst, inputData)

	if err := p.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	return p.collect(p.outputTensor.GetData())
}

func (p *ONNXProvider) collect(outputData []float32) ([]float64, error) {
	values := make([]float64, len(outputData))
	for i, v := range outputData {
		values[i] = float64(v)
	}
	if p.Metadata.Softmax {
		values = softmax(values)
	}

	dist := make([]float64, emotion.Count)
	var sum float64
	for i, v := range values {
		if i >= len(p.classIndex) || p.classIndex[i] < 0 {
			continue
		}
		if math.IsNaN(v) || v < 0 {
			v = 0
		}
		dist[p.classIndex[i]] += v
		sum += v
	}
	if sum == 0 {
		return nil, fmt.Errorf("%w: model produced an empty distribution", ErrInvalidWeights)
	}
	return normalize(dist), nil
}

func softmax(values []float64) []float64 {
	if len(values) == 0 {
		return values
	}
	peak := values[0]
	for _, v := range values[1:] {
		peak = max(peak, v)
	}
	out := make([]float64, len(values))
	var sum float64
	for i, v := range values {
		out[i] = math.Exp(v - peak)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Close releases the tensors, the session and the runtime environment.
func (p *ONNXProvider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.inputTensor != nil {
		p.inputTensor.Destroy()
	}
	if p.outputTensor != nil {
		p.outputTensor.Destroy()
	}
	if p.session != nil {
		p.session.Destroy()
	}
	ort.DestroyEnvironment()
}
