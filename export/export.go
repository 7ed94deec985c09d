// Package export 将查询结果渲染为可下载的 CSV 或可打印的 HTML 文档。
//
// 渲染是确定性的：相同输入得到相同字节，不重新排序，列按调用方给定的顺序输出。
package export

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"crmkit/domain/entity"
	"crmkit/errors"
)

// Format 导出格式
type Format string

const (
	FormatCSV   Format = "csv"
	FormatPrint Format = "print"
)

// ParseFormat 解析格式名（大小写不敏感），pdf 视为 print
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv", "":
		return FormatCSV, nil
	case "print", "pdf", "html":
		return FormatPrint, nil
	default:
		return "", errors.NewFieldError(errors.KindMalformed, "format",
			fmt.Sprintf("unsupported export format %q", s))
	}
}

// ContentType 响应内容类型
func (f Format) ContentType() string {
	if f == FormatPrint {
		return "text/html; charset=utf-8"
	}
	return "text/csv; charset=utf-8"
}

// Extension 文件扩展名
func (f Format) Extension() string {
	if f == FormatPrint {
		return ".html"
	}
	return ".csv"
}

// Write 按格式渲染
func Write(w io.Writer, f Format, title string, records []entity.Record, columns []entity.Column) error {
	switch f {
	case FormatCSV:
		return WriteCSV(w, records, columns)
	case FormatPrint:
		return WritePrintable(w, title, records, columns)
	default:
		return errors.NewError(errors.ErrCodeInternal, fmt.Sprintf("unsupported export format %q", f))
	}
}

// FormatValue 单元格文本：nil 为空，时间为 RFC 3339 UTC，浮点数取最短表示
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case *time.Time:
		if val == nil {
			return ""
		}
		return val.UTC().Format(time.RFC3339)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}

func label(c entity.Column) string {
	if c.Label != "" {
		return c.Label
	}
	return entity.DeriveLabel(c.Field)
}
