package xerr

import (
	"errors"
	"fmt"
)

// CodeError 自定义错误结构
type CodeError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error 实现 error 接口
func (e *CodeError) Error() string {
	return fmt.Sprintf("Code: %d, Message: %s", e.Code, e.Message)
}

// New 创建新的 CodeError
func New(code int, msg string) *CodeError {
	return &CodeError{Code: code, Message: msg}
}

// 常用通用错误码
const (
	OK                  = 200
	BadRequest          = 400
	Unauthorized        = 401
	Forbidden           = 403
	NotFound            = 404
	InternalServerError = 500
)

// 检索引擎领域错误码（4xxx 调用方错误，5xxx 后端/模型错误）
const (
	CodeEmptyInput        = 4001
	CodeDimensionMismatch = 4002
	CodeBadQuery          = 4003
	CodeRetrieval         = 5001
	CodeGenerationTimeout = 5002
	CodeGeneration        = 5003
	CodeEmbedderInit      = 5004
)

// 常用预定义错误
var (
	ErrSuccess     = New(OK, "Success")
	ErrServerError = New(InternalServerError, "系统错误，请联系工作人员")
	ErrParam       = New(BadRequest, "参数错误")

	// ErrEmptyInput 对空文本/纯空白文本请求向量化
	ErrEmptyInput = New(CodeEmptyInput, "文本为空，拒绝向量化")
	// ErrDimensionMismatch 向量维度与集合固定维度不一致（只影响该次操作）
	ErrDimensionMismatch = New(CodeDimensionMismatch, "向量维度不匹配")
	// ErrBadQuery 查询参数非法（不重试）
	ErrBadQuery = New(CodeBadQuery, "查询非法")
	// ErrRetrieval 向量库不可达或检索失败
	ErrRetrieval = New(CodeRetrieval, "向量检索失败")
	// ErrGenerationTimeout 生成模型调用超时（不自动重试，避免重复昂贵调用）
	ErrGenerationTimeout = New(CodeGenerationTimeout, "生成超时")
	// ErrGeneration 生成模型调用失败（不自动重试）
	ErrGeneration = New(CodeGeneration, "生成失败")
	// ErrEmbedderInit 向量化模型加载失败（系统级错误，立即上抛）
	ErrEmbedderInit = New(CodeEmbedderInit, "向量化模型初始化失败")
)

// transientError 标记瞬时错误（网络抖动、后端暂不可达）
type transientError struct {
	err error
}

func (t *transientError) Error() string { return t.err.Error() }

func (t *transientError) Unwrap() error { return t.err }

// MarkTransient 将错误标记为瞬时错误，检索路径对其最多退避重试一次
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient 判断错误是否为瞬时错误
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}
