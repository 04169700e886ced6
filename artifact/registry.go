package artifact

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/rushteam/reminsight/model"
)

// ModelLoader 从版本目录中的模型文件构建运行时模型。
// 返回值需至少实现 model.NativeBooster / model.ProbabilisticClassifier / model.RawPredictor 之一。
type ModelLoader func(dir, file string) (any, error)

type loaderEntry struct {
	file   string
	loader ModelLoader
}

var (
	modelLoaders   []loaderEntry
	modelLoadersMu sync.RWMutex
)

func init() {
	RegisterModelLoader("model.json", func(dir, file string) (any, error) {
		return model.LoadXGBoost(filepath.Join(dir, file))
	})
	RegisterModelLoader("model.onnx", func(dir, file string) (any, error) {
		return model.LoadONNXModel(filepath.Join(dir, file), filepath.Join(dir, file+".json"))
	})
	RegisterModelLoader("model_lr.json", func(dir, file string) (any, error) {
		return model.LoadLogistic(filepath.Join(dir, file))
	})
}

// RegisterModelLoader 注册一种模型文件的加载逻辑。
// 加载时按注册顺序查找，第一个存在的文件生效；重复注册同一文件名会替换原加载器并保留位置。
func RegisterModelLoader(file string, loader ModelLoader) {
	if file == "" || loader == nil {
		return
	}
	modelLoadersMu.Lock()
	defer modelLoadersMu.Unlock()
	for i, e := range modelLoaders {
		if e.file == file {
			modelLoaders[i].loader = loader
			return
		}
	}
	modelLoaders = append(modelLoaders, loaderEntry{file: file, loader: loader})
}

// SupportedModelFiles 返回按优先级排列的模型文件名，用于错误提示。
func SupportedModelFiles() []string {
	modelLoadersMu.RLock()
	defer modelLoadersMu.RUnlock()
	files := make([]string, len(modelLoaders))
	for i, e := range modelLoaders {
		files[i] = e.file
	}
	return files
}

func registeredLoaders() []loaderEntry {
	modelLoadersMu.RLock()
	defer modelLoadersMu.RUnlock()
	return append([]loaderEntry(nil), modelLoaders...)
}

func describeLoaders() string {
	return fmt.Sprintf("%v", SupportedModelFiles())
}
