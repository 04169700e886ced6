// Package artifact 管理磁盘上按版本组织的模型产物。
//
// 目录结构：
//
//	<root>/
//	  v20250101T000000/
//	    features_full.json | features.json   特征列表（必需，前者优先）
//	    model.json | model.onnx | model_lr.json 模型文件（必需，按注册顺序查找）
//	    imputer.json                          缺失值填充器（可选）
//	    scaler.json                           标准化器（可选）
//	    training_provenance.json              训练溯源（可选）
//	    shap_feature_importance.json          全局重要性（可选）
package artifact

import (
	"time"

	"github.com/rushteam/reminsight/core"
	"github.com/rushteam/reminsight/feature"
	"github.com/rushteam/reminsight/model"
)

// Bundle 是一个已加载的模型版本，加载完成后只读，可在 goroutine 间共享。
type Bundle struct {
	Version     string
	Dir         string
	Features    []string
	FeatureFile string
	ModelFile   string
	Model       *model.Adapter
	Imputer     *feature.Imputer
	Scaler      *feature.Scaler
	Provenance  *Provenance
	Importance  []core.Attribution
	LoadedAt    time.Time
}

// Fill 返回对齐时缺失特征的填充值：有 imputer 时为 NaN，否则为 0
func (b *Bundle) Fill() float64 {
	return feature.DefaultFill(b.Imputer != nil)
}

// Chain 按给定策略构建预处理链
func (b *Bundle) Chain(policy feature.Policy) feature.Chain {
	return feature.Chain{Imputer: b.Imputer, Scaler: b.Scaler, Policy: policy}
}

// Runtime 返回模型运行时类型名称
func (b *Bundle) Runtime() string {
	if b.Model == nil {
		return model.RuntimeUnknown.String()
	}
	return b.Model.Kind().String()
}

// Close 释放模型运行时持有的资源
func (b *Bundle) Close() error {
	if b.Model == nil {
		return nil
	}
	return b.Model.Close()
}
