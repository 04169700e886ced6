package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rushteam/reminsight/core"
)

type errorBody struct {
	Code    string `json:"code"`
	Module  string `json:"module,omitempty"`
	Message string `json:"message"`
}

// statusFor 把领域错误映射为 HTTP 状态码。
// explicit 表示请求显式指定了版本，此时 NOT_FOUND 是调用方的问题。
func statusFor(err error, explicit bool) int {
	de := core.GetDomainError(err)
	if de == nil {
		return http.StatusInternalServerError
	}
	switch de.Code {
	case core.ErrorCodeInvalidInput:
		return http.StatusBadRequest
	case core.ErrorCodeNotFound:
		if explicit {
			return http.StatusNotFound
		}
		return http.StatusServiceUnavailable
	case core.ErrorCodeCorruptArtifact, core.ErrorCodeUnavailable:
		return http.StatusServiceUnavailable
	case core.ErrorCodeNotSupported:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error, explicit bool) {
	status := statusFor(err, explicit)
	body := errorBody{Code: core.ErrorCodeInternalError, Message: err.Error()}
	if de := core.GetDomainError(err); de != nil {
		body.Code, body.Module = de.Code, de.Module
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": body})
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": errorBody{
		Code:    core.ErrorCodeInvalidInput,
		Module:  "http",
		Message: message,
	}})
}
