package errors

import "fmt"

// 错误码
const (
	CodeSuccess         = 200
	CodeAccepted        = 202 // 已受理, 异步执行
	CodeBadRequest      = 400
	CodeUnauthorized    = 401
	CodeForbidden       = 403
	CodeNotFound        = 404
	CodeConflict        = 409
	CodeInternalError   = 500
	CodeDatabaseError   = 501
	CodeValidationError = 503
)

// AppError 应用错误
type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 返回原始错误
func (e *AppError) Unwrap() error {
	return e.Err
}

// New 创建新错误
func New(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包装错误
func Wrap(code int, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// 预定义错误
var (
	ErrBadRequest      = New(CodeBadRequest, "请求参数错误")
	ErrUnauthorized    = New(CodeUnauthorized, "未授权")
	ErrForbidden       = New(CodeForbidden, "禁止访问")
	ErrNotFound        = New(CodeNotFound, "资源不存在")
	ErrConflict        = New(CodeConflict, "资源冲突")
	ErrInternalError   = New(CodeInternalError, "内部服务器错误")
	ErrDatabaseError   = New(CodeDatabaseError, "数据库错误")
	ErrValidationError = New(CodeValidationError, "数据验证失败")

	// 具体业务错误
	ErrInvalidParams    = New(CodeBadRequest, "请求参数错误")
	ErrInvalidToken     = New(CodeUnauthorized, "无效的Token")
	ErrTokenExpired     = New(CodeUnauthorized, "Token已过期")
	ErrInvalidSignature = New(CodeUnauthorized, "Webhook签名校验失败")
	ErrRepoNotFound     = New(CodeNotFound, "仓库未配置")
	ErrUnknownOperation = New(CodeBadRequest, "不支持的操作")
	ErrDeployNotRunning = New(CodeConflict, "当前没有运行中的部署")
	ErrRollbackNotAdmit = New(CodeBadRequest, "该仓库策略不支持手工回滚")
)
