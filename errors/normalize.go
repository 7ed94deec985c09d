package errors

import (
	"context"
	stdErrors "errors"
)

// Normalize 将存储后端返回的原始错误规范化为 AppError。
//
//   - 已经是 IError 的错误原样返回；
//   - 超时/取消映射为 TIMEOUT（不在本层重试）；
//   - 其余一律视为 BACKEND_UNAVAILABLE，保留原始错误作为 cause。
func Normalize(err error, message string) error {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if stdErrors.As(err, &appErr) {
		return err
	}

	if stdErrors.Is(err, context.DeadlineExceeded) || stdErrors.Is(err, context.Canceled) {
		return WrapError(err, ErrCodeTimeout, message)
	}

	return WrapError(err, ErrCodeBackendUnavailable, message)
}
