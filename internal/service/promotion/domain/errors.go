// internal/service/promotion/domain/errors.go
package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrRuleNotFound 引用的规则不存在
	ErrRuleNotFound = errors.New("gift rule not found")
)

// ValidationError 表示规则创建/更新时的入参错误，携带字段级信息。
// 这类错误直接回给调用方修正，不会重试。
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed on %q: %s", e.Field, e.Message)
}

// NewValidationError 构造一个字段级校验错误。
func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation 判断 err 是否为入参校验错误。
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
