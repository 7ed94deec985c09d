package export

import (
	"io"
	"strconv"

	g "maragu.dev/gomponents"
	html "maragu.dev/gomponents/html"

	"crmkit/domain/entity"
)

const printCSS = `@page { size: A4 landscape; margin: 12mm; }
body { font-family: Helvetica, Arial, sans-serif; font-size: 10pt; color: #111; }
h1 { font-size: 14pt; margin: 0 0 4mm; }
p.meta { color: #555; margin: 0 0 4mm; }
table { width: 100%; border-collapse: collapse; }
th, td { border: 1px solid #999; padding: 2px 4px; text-align: left; vertical-align: top; }
thead { display: table-header-group; }
tr { page-break-inside: avoid; }
th { background: #eee; }`

// WritePrintable 写出自包含的可打印 HTML 文档（表格加打印样式），由外部工具转为 PDF
func WritePrintable(w io.Writer, title string, records []entity.Record, columns []entity.Column) error {
	return printable(title, records, columns).Render(w)
}

func printable(title string, records []entity.Record, columns []entity.Column) g.Node {
	return html.Doctype(
		html.HTML(
			html.Lang("en"),
			html.Head(
				html.Meta(html.Charset("utf-8")),
				html.TitleEl(g.Text(title)),
				html.StyleEl(g.Raw(printCSS)),
			),
			html.Body(
				html.H1(g.Text(title)),
				html.P(html.Class("meta"), g.Text(rowCount(len(records)))),
				html.Table(
					html.THead(html.Tr(g.Map(columns, func(c entity.Column) g.Node {
						return html.Th(g.Text(label(c)))
					}))),
					html.TBody(g.Map(records, func(rec entity.Record) g.Node {
						return html.Tr(g.Map(columns, func(c entity.Column) g.Node {
							return html.Td(g.Text(FormatValue(rec[c.Field])))
						}))
					})),
				),
			),
		),
	)
}

func rowCount(n int) string {
	if n == 1 {
		return "1 row"
	}
	return strconv.Itoa(n) + " rows"
}
