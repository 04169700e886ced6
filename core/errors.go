package core

import (
	"errors"
	"fmt"
)

// DomainError 是领域层的统一错误类型。
//
// 设计原则：
//   - 所有领域层错误都使用此类型，由 server 层映射为 HTTP 状态
//   - 提供错误代码（Code）、模块（Module）和可选的底层错误（Err）
//   - 支持 errors.Is / errors.As 穿透包装
//
// 使用场景：
//   - Artifact 错误：NOT_FOUND, CORRUPT_ARTIFACT
//   - 请求错误：INVALID_INPUT
//   - 预处理错误：PREPROCESS_FAILED
//   - 推理错误：INTERNAL_ERROR
type DomainError struct {
	Code    string // 错误代码（如 "NOT_FOUND", "CORRUPT_ARTIFACT"）
	Message string // 错误消息
	Module  string // 模块名称（如 "artifact", "model"）
	Err     error  // 底层错误（可选）
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error { return e.Err }

// IsDomainError 检查错误链中是否包含 DomainError
func IsDomainError(err error) bool {
	return GetDomainError(err) != nil
}

// GetDomainError 获取错误链中的第一个 DomainError，如果没有则返回 nil
func GetDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return nil
}

// NewDomainError 创建新的领域错误
func NewDomainError(module, code, message string) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Message: message,
	}
}

// WrapDomainError 包装底层错误为领域错误，message 支持格式化
func WrapDomainError(module, code string, err error, format string, args ...any) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// 错误代码常量
const (
	ErrorCodeNotFound         = "NOT_FOUND"         // 资源不存在（无 artifact 根目录 / 无版本 / 指定版本缺失 / 模型文件缺失）
	ErrorCodeCorruptArtifact  = "CORRUPT_ARTIFACT"  // artifact 存在但无法使用
	ErrorCodeNotSupported     = "NOT_SUPPORTED"     // 操作不支持
	ErrorCodeUnavailable      = "UNAVAILABLE"       // 服务不可用
	ErrorCodeInvalidInput     = "INVALID_INPUT"     // 输入无效
	ErrorCodePreprocessFailed = "PREPROCESS_FAILED" // 预处理失败（strict 策略）
	ErrorCodeInternalError    = "INTERNAL_ERROR"    // 内部错误
)

// 模块名称常量
const (
	ModuleArtifact = "artifact" // 模型版本存储
	ModuleFeature  = "feature"  // 特征对齐 / 预处理
	ModuleModel    = "model"    // 模型运行时
	ModuleExplain  = "explain"  // 特征归因
	ModuleService  = "service"  // 版本解析 / 预测编排
	ModuleStore    = "store"    // 预测历史存储
	ModuleServer   = "server"   // HTTP 层
)

func hasCode(err error, code string) bool {
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.Code == code
	}
	return false
}

// IsNotFound 检查错误是否为 NOT_FOUND
func IsNotFound(err error) bool { return hasCode(err, ErrorCodeNotFound) }

// IsCorrupt 检查错误是否为 CORRUPT_ARTIFACT
func IsCorrupt(err error) bool { return hasCode(err, ErrorCodeCorruptArtifact) }

// IsNotSupported 检查错误是否为 NOT_SUPPORTED
func IsNotSupported(err error) bool { return hasCode(err, ErrorCodeNotSupported) }

// IsUnavailable 检查错误是否为 UNAVAILABLE
func IsUnavailable(err error) bool { return hasCode(err, ErrorCodeUnavailable) }

// IsInvalidInput 检查错误是否为 INVALID_INPUT
func IsInvalidInput(err error) bool { return hasCode(err, ErrorCodeInvalidInput) }

// IsPreprocessFailed 检查错误是否为 PREPROCESS_FAILED
func IsPreprocessFailed(err error) bool { return hasCode(err, ErrorCodePreprocessFailed) }
