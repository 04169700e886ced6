package core

import "context"

// MLService 是预测服务的领域接口。
//
// 设计原则：
//   - 定义在领域层（core），由 service.Predictor 实现
//   - 预测、健康检查与资源释放的最小契约
//
// 使用场景：
//   - HTTP /predict、/predict_csv
//   - CLI predict 子命令
type MLService interface {
	// Predict 批量预测
	Predict(ctx context.Context, req *MLPredictRequest) (*MLPredictResponse, error)

	// Health 健康检查：当前是否能解析出可用的模型版本
	Health(ctx context.Context) error

	// Close 释放模型运行时资源
	Close(ctx context.Context) error
}

// MLPredictRequest 预测请求
type MLPredictRequest struct {
	// Rows 原始输入行，值可能缺失、为 null、数值或字符串
	Rows []map[string]any

	// ModelVersion 模型版本（可选，空表示 latest）
	ModelVersion string

	// Explain 是否计算特征归因
	Explain bool

	// TopK 归因条数（<=0 使用默认值）
	TopK int

	// SubjectID 受试者 ID（可选，用于历史记录和在线特征补全）
	SubjectID string
}

// MLPredictResponse 预测响应
type MLPredictResponse struct {
	// Results 与 Rows 一一对应
	Results []PredictionResult

	// ModelVersion 实际使用的模型版本
	ModelVersion string
}
