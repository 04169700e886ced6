package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	onnxruntime "github.com/yalue/onnxruntime_go"
)

// ONNXMeta 描述 ONNX 模型的输入输出，对应 model.onnx 旁的 model.onnx.json（可选）。
//
// sklearn-onnx 导出时需关闭 zipmap（options={"zipmap": False}），
// 使 probabilities 输出为 [N, C] 的张量。
type ONNXMeta struct {
	Input       string `json:"input"`
	LabelOutput string `json:"label_output"`
	ProbOutput  string `json:"probabilities_output"`
	NumClasses  int    `json:"num_classes"`
	NumFeatures int    `json:"num_features"`
	InputType   string `json:"input_type"`         // float32 | float64
	ProbType    string `json:"probabilities_type"` // float32 | float64
}

// DefaultONNXMeta 是 sklearn-onnx 二分类模型的默认约定
func DefaultONNXMeta() ONNXMeta {
	return ONNXMeta{
		Input:       "float_input",
		LabelOutput: "label",
		ProbOutput:  "probabilities",
		NumClasses:  2,
		InputType:   "float32",
		ProbType:    "float32",
	}
}

var (
	onnxInitMu      sync.Mutex
	onnxLibraryPath string
)

// SetONNXLibraryPath 设置 onnxruntime 动态库路径，需在第一次加载 ONNX 模型前调用
func SetONNXLibraryPath(path string) {
	onnxInitMu.Lock()
	defer onnxInitMu.Unlock()
	onnxLibraryPath = path
}

func ensureONNXEnvironment() error {
	onnxInitMu.Lock()
	defer onnxInitMu.Unlock()
	if onnxruntime.IsInitialized() {
		return nil
	}
	if onnxLibraryPath != "" {
		onnxruntime.SetSharedLibraryPath(onnxLibraryPath)
	}
	if err := onnxruntime.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}
	return nil
}

// ONNXModel 基于 ONNX Runtime 的概率分类器，实现 ProbabilisticClassifier
type ONNXModel struct {
	session *onnxruntime.DynamicAdvancedSession
	meta    ONNXMeta
}

// LoadONNXModel 加载 ONNX 模型，metaPath 为空或文件不存在时使用默认约定
func LoadONNXModel(modelPath, metaPath string) (*ONNXModel, error) {
	meta := DefaultONNXMeta()
	if metaPath != "" {
		data, err := os.ReadFile(metaPath)
		switch {
		case err == nil:
			if err := json.Unmarshal(data, &meta); err != nil {
				return nil, fmt.Errorf("解析 ONNX 元数据失败: %w", err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("读取 ONNX 元数据失败: %w", err)
		}
	}
	if meta.NumClasses < 2 {
		return nil, fmt.Errorf("onnx: num_classes must be >= 2, got %d", meta.NumClasses)
	}

	if err := ensureONNXEnvironment(); err != nil {
		return nil, err
	}

	options, err := onnxruntime.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	session, err := onnxruntime.NewDynamicAdvancedSession(modelPath,
		[]string{meta.Input}, []string{meta.LabelOutput, meta.ProbOutput}, options)
	if err != nil {
		return nil, fmt.Errorf("failed to load ONNX model: %w", err)
	}
	return &ONNXModel{session: session, meta: meta}, nil
}

// NumFeatures 实现 InputWidthReporter
func (m *ONNXModel) NumFeatures() int { return m.meta.NumFeatures }

// PredictProba 实现 ProbabilisticClassifier
func (m *ONNXModel) PredictProba(x [][]float64) ([][]float64, error) {
	if m.session == nil {
		return nil, fmt.Errorf("onnx: model session is closed")
	}
	if len(x) == 0 {
		return nil, nil
	}
	width := len(x[0])
	n := int64(len(x))

	input, err := newInputTensor(m.meta.InputType, x, width)
	if err != nil {
		return nil, err
	}
	defer input.Destroy()

	labels, err := onnxruntime.NewEmptyTensor[int64](onnxruntime.NewShape(n))
	if err != nil {
		return nil, fmt.Errorf("failed to create label output tensor: %w", err)
	}
	defer labels.Destroy()

	probShape := onnxruntime.NewShape(n, int64(m.meta.NumClasses))
	var probs [][]float64
	if m.meta.ProbType == "float64" {
		t, err := onnxruntime.NewEmptyTensor[float64](probShape)
		if err != nil {
			return nil, fmt.Errorf("failed to create probabilities output tensor: %w", err)
		}
		defer t.Destroy()
		if err := m.session.Run([]onnxruntime.Value{input}, []onnxruntime.Value{labels, t}); err != nil {
			return nil, fmt.Errorf("onnx inference failed: %w", err)
		}
		probs = reshape(t.GetData(), len(x), m.meta.NumClasses)
	} else {
		t, err := onnxruntime.NewEmptyTensor[float32](probShape)
		if err != nil {
			return nil, fmt.Errorf("failed to create probabilities output tensor: %w", err)
		}
		defer t.Destroy()
		if err := m.session.Run([]onnxruntime.Value{input}, []onnxruntime.Value{labels, t}); err != nil {
			return nil, fmt.Errorf("onnx inference failed: %w", err)
		}
		probs = reshape(t.GetData(), len(x), m.meta.NumClasses)
	}
	return probs, nil
}

func newInputTensor(typ string, x [][]float64, width int) (onnxruntime.Value, error) {
	shape := onnxruntime.NewShape(int64(len(x)), int64(width))
	if typ == "float64" {
		data := make([]float64, 0, len(x)*width)
		for _, row := range x {
			data = append(data, row...)
		}
		t, err := onnxruntime.NewTensor(shape, data)
		if err != nil {
			return nil, fmt.Errorf("failed to create input tensor: %w", err)
		}
		return t, nil
	}
	data := make([]float32, 0, len(x)*width)
	for _, row := range x {
		for _, v := range row {
			data = append(data, float32(v))
		}
	}
	t, err := onnxruntime.NewTensor(shape, data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	return t, nil
}

func reshape[T float32 | float64](flat []T, rows, cols int) [][]float64 {
	out := make([][]float64, rows)
	for i := range out {
		out[i] = make([]float64, cols)
		for j := 0; j < cols; j++ {
			out[i][j] = float64(flat[i*cols+j])
		}
	}
	return out
}

// Close 释放 ONNX session
func (m *ONNXModel) Close() error {
	if m.session != nil {
		err := m.session.Destroy()
		m.session = nil
		return err
	}
	return nil
}
