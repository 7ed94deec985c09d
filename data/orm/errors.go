package orm

import "errors"

var (
	// ErrNotFound 表示记录未找到。
	ErrNotFound = errors.New("orm: record not found")
	// ErrUnknownColumn 表示写入或查询引用了模型元信息之外的列。
	ErrUnknownColumn = errors.New("orm: unknown column")
)
