package errs

import (
	"errors"
	"fmt"
)

// 错误分类哨兵
// 业务层统一用 errors.Is 判断错误类别
// Conflict/InvalidState/Validation/NotFound 属于调用方错误，不做自动重试
// Transient 表示网络/通道类瞬时故障，仅订阅通道内部重试
var (
	ErrConflict     = errors.New("conflict")      // 状态冲突（重复请求、重复行）
	ErrInvalidState = errors.New("invalid state") // 当前状态下不允许该操作
	ErrValidation   = errors.New("validation")    // 参数校验失败
	ErrNotFound     = errors.New("not found")     // 目标不存在
	ErrTransient    = errors.New("transient")     // 瞬时故障，可重试
	ErrUnknown      = errors.New("unknown")       // 未知后端错误
)

// Conflictf 包装一个冲突错误
func Conflictf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrConflict}, args...)...)
}

// InvalidStatef 包装一个状态错误
func InvalidStatef(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalidState}, args...)...)
}

// Validationf 包装一个校验错误
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrValidation}, args...)...)
}

// NotFoundf 包装一个不存在错误
func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrNotFound}, args...)...)
}

// Transientf 包装一个瞬时故障
func Transientf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrTransient}, args...)...)
}

// Transient 把底层错误标记为瞬时故障，保留原始错误链
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// Unknown 把无法归类的后端错误原样向上传递
func Unknown(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrUnknown, err)
}

// IsConflict 是否为冲突错误
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsInvalidState 是否为状态错误
func IsInvalidState(err error) bool { return errors.Is(err, ErrInvalidState) }

// IsValidation 是否为校验错误
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsNotFound 是否为不存在错误
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsTransient 是否为瞬时故障
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }
