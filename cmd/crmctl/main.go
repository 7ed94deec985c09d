// Command crmctl 是 crmkit 的运维命令行：健康检查、迁移、查询、导出与实体变更。
package main

import (
	"fmt"
	"os"

	"crmkit/errors"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode 按错误类型区分退出码
func exitCode(err error) int {
	switch errors.GetErrorCode(err) {
	case errors.ErrCodeValidation, errors.ErrCodeInvalidInput:
		return 2
	case errors.ErrCodeNotFoundOrDeleted, errors.ErrCodeNotFoundOrNotDeleted:
		return 3
	case errors.ErrCodeBackendUnavailable, errors.ErrCodeTimeout:
		return 4
	default:
		return 1
	}
}
