package export

import (
	"bufio"
	"io"
	"strings"

	"crmkit/domain/entity"
)

const bom = "\ufeff"

// WriteCSV 写出带 BOM 的 CSV：表头为列标签，每个字段都加引号，内部引号加倍，行尾 CRLF
func WriteCSV(w io.Writer, records []entity.Record, columns []entity.Column) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(bom); err != nil {
		return err
	}

	cells := make([]string, len(columns))
	for i, c := range columns {
		cells[i] = label(c)
	}
	if err := writeRow(bw, cells); err != nil {
		return err
	}
	for _, rec := range records {
		for i, c := range columns {
			cells[i] = FormatValue(rec[c.Field])
		}
		if err := writeRow(bw, cells); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func writeRow(bw *bufio.Writer, cells []string) error {
	for i, cell := range cells {
		if i > 0 {
			bw.WriteByte(',')
		}
		bw.WriteByte('"')
		bw.WriteString(strings.ReplaceAll(cell, `"`, `""`))
		bw.WriteByte('"')
	}
	_, err := bw.WriteString("\r\n")
	return err
}
