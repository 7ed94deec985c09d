package dialect

import (
	"database/sql"
	"strconv"
	"strings"
	"time"

	core "crmkit/data/db"
)

// Name 标准化的数据库方言名称
type Name string

const (
	NameSQLite   Name = "sqlite"
	NamePostgres Name = "postgres"
	NameUnknown  Name = ""
)

// sqliteTimeLayout 定宽 UTC 文本，字典序与时间序一致
const sqliteTimeLayout = "2006-01-02T15:04:05.000000Z"

// Dialect 表示当前数据库的方言能力
//
// 目前只抽象项目实际用到的能力：
//   - 占位符与标识符转义
//   - 行锁（SELECT ... FOR UPDATE）
//   - 大小写不敏感子串匹配
//   - 时间值的存储与回读
//   - 唯一键冲突识别
type Dialect struct {
	name Name
}

// New 根据字符串构造方言（大小写不敏感）
func New(name string) Dialect {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sqlite", "sqlite3":
		return Dialect{name: NameSQLite}
	case "postgres", "postgresql", "pq":
		return Dialect{name: NamePostgres}
	default:
		return Dialect{name: NameUnknown}
	}
}

// FromDatabase 从 IDatabase 实例推断方言
//
// 需要 IDatabase 可选实现 IDialectNameProvider 接口；否则返回 Unknown。
func FromDatabase(db core.IDatabase) Dialect {
	if db == nil {
		return Dialect{name: NameUnknown}
	}
	if p, ok := db.(core.IDialectNameProvider); ok {
		return New(p.GetDialectName())
	}
	return Dialect{name: NameUnknown}
}

// Name 返回标准化方言名
func (d Dialect) Name() Name {
	return d.name
}

// DriverName 返回 database/sql 注册的驱动名
func (d Dialect) DriverName() string {
	switch d.name {
	case NameSQLite:
		return "sqlite"
	case NamePostgres:
		return "postgres"
	default:
		return ""
	}
}

// MigrationDialect 返回 goose 使用的方言名
func (d Dialect) MigrationDialect() string {
	switch d.name {
	case NameSQLite:
		return "sqlite3"
	case NamePostgres:
		return "postgres"
	default:
		return ""
	}
}

// QuoteIdentifier 根据方言对标识符进行转义（如表名/列名）。
//
// 约定：
//   - 支持 schema.table、table.column 等带点形式，会对每一段分别加引号；
//   - Postgres/SQLite 使用双引号 "name"；
//   - Unknown 方言返回原始字符串，不做修改；
//   - 该方法不负责校验标识符语法，仅负责按方言加引号。
func (d Dialect) QuoteIdentifier(name string) string {
	if name == "" {
		return ""
	}
	if d.name == NameUnknown {
		return name
	}
	parts := strings.Split(name, ".")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = `"` + p + `"`
	}
	return strings.Join(parts, ".")
}

// Rebind 将通用占位符 ? 转换为方言特定形式。
//
// 目前仅对 Postgres 做替换，将 ? 依次替换为 $1、$2...；
// 其他方言保持原样。
//
// 限制：使用简单的字符扫描，不解析 SQL 语法，字符串字面量中的 ? 也会被替换。
// 本项目生成的 SQL 只通过参数传值，字面量中不出现 ?。
func (d Dialect) Rebind(query string) string {
	if query == "" {
		return query
	}
	switch d.name {
	case NamePostgres:
		var sb strings.Builder
		sb.Grow(len(query) + 8)
		argIndex := 1
		for i := 0; i < len(query); i++ {
			ch := query[i]
			if ch == '?' {
				sb.WriteByte('$')
				sb.WriteString(strconv.Itoa(argIndex))
				argIndex++
			} else {
				sb.WriteByte(ch)
			}
		}
		return sb.String()
	default:
		return query
	}
}

// SupportsForUpdate 当前方言是否支持 SELECT ... FOR UPDATE
//
// SQLite 在写事务中按库加锁，无需行锁子句。
func (d Dialect) SupportsForUpdate() bool {
	return d.name == NamePostgres
}

// SnapshotTxOptions 返回只读快照事务选项。
//
// Postgres 使用 REPEATABLE READ 保证事务内多次读取看到同一快照；
// SQLite 的读事务本身即为快照（WAL/rollback journal 均如此），返回 nil 使用驱动默认值。
func (d Dialect) SnapshotTxOptions() *sql.TxOptions {
	if d.name == NamePostgres {
		return &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	return nil
}

// OrderDirection 排序方向子句，NULL 一律视为最小值（SQLite 默认如此）
func (d Dialect) OrderDirection(desc bool) string {
	switch {
	case d.name == NamePostgres && desc:
		return " DESC NULLS LAST"
	case d.name == NamePostgres:
		return " ASC NULLS FIRST"
	case desc:
		return " DESC"
	default:
		return " ASC"
	}
}

// ContainsExpr 生成大小写不敏感的子串匹配表达式，quotedColumn 需已转义。
//
// 参数应为 LikePattern 生成的模式。SQLite 的 LOWER 只处理 ASCII。
func (d Dialect) ContainsExpr(quotedColumn string) string {
	switch d.name {
	case NamePostgres:
		return "CAST(" + quotedColumn + " AS TEXT) ILIKE ? ESCAPE '\\'"
	default:
		return "LOWER(CAST(" + quotedColumn + " AS TEXT)) LIKE ? ESCAPE '\\'"
	}
}

// LikePattern 将搜索词转义为 %term% 形式的 LIKE 模式
func (d Dialect) LikePattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	escaped := r.Replace(term)
	if d.name != NamePostgres {
		escaped = strings.ToLower(escaped)
	}
	return "%" + escaped + "%"
}

// TimeValue 将时间转换为写入参数
func (d Dialect) TimeValue(t time.Time) any {
	if d.name == NamePostgres {
		return t.UTC()
	}
	return t.UTC().Format(sqliteTimeLayout)
}

// ParseTime 将扫描得到的值还原为 UTC 时间
func (d Dialect) ParseTime(v any) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val.UTC(), true
	case string:
		return parseTimeText(val)
	case []byte:
		return parseTimeText(string(val))
	default:
		return time.Time{}, false
	}
}

func parseTimeText(s string) (time.Time, bool) {
	for _, layout := range []string{sqliteTimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// IsUniqueViolation 判断错误是否为唯一键/主键冲突
//
// 使用错误消息的关键字匹配：
//   - SQLite: "UNIQUE constraint failed"
//   - Postgres: "duplicate key value" (23505)
func (d Dialect) IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	switch d.name {
	case NameSQLite:
		return strings.Contains(msg, "unique constraint failed")
	default:
		return strings.Contains(msg, "duplicate key") ||
			strings.Contains(msg, "unique constraint")
	}
}
