// Package reminsight 提供睡眠问卷模型的版本化推理服务（REM Insight）。
//
// 设计要点：
// - Version-first: 模型产物按版本目录组织，latest 自动发现，显式版本按需加载并缓存
// - Coverage-first: 每行输入都报告特征覆盖情况，缺失特征走 imputer / scaler 预处理链
// - Explain 可选: 树模型走 TreeSHAP，线性模型走精确归因，其余运行时走采样近似
package reminsight

import (
	"github.com/rushteam/reminsight/artifact"
	"github.com/rushteam/reminsight/core"
	"github.com/rushteam/reminsight/service"
)

// 轻量 facade：便于用户直接 import "reminsight" 使用核心抽象。
type (
	Predictor = service.Predictor
	Resolver  = service.Resolver
	Bundle    = artifact.Bundle
	Request   = core.MLPredictRequest
	Response  = core.MLPredictResponse
	Result    = core.PredictionResult
)

var (
	NewFileStore = artifact.NewFileStore
	NewResolver  = service.NewResolver
	NewPredictor = service.NewPredictor
)
