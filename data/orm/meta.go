package orm

// Kind 描述列值在 Go 侧的归一化类型。
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindBool
	KindTime
)

// FieldMeta 描述字段元信息。
type FieldMeta struct {
	Name       string // 逻辑字段名
	Column     string // 物理列名
	Kind       Kind
	PrimaryKey bool
}

// ModelMeta 描述模型级别元信息，Fields 同时是列白名单。
type ModelMeta struct {
	Table  string
	Fields []FieldMeta

	byColumn map[string]int
}

// NewModelMeta 构造模型元信息并建立列索引
func NewModelMeta(table string, fields ...FieldMeta) *ModelMeta {
	m := &ModelMeta{Table: table, Fields: fields, byColumn: make(map[string]int, len(fields))}
	for i, f := range fields {
		m.byColumn[f.Column] = i
	}
	return m
}

// Field 按物理列名查找字段
func (m *ModelMeta) Field(column string) (FieldMeta, bool) {
	if m == nil {
		return FieldMeta{}, false
	}
	if m.byColumn == nil {
		for _, f := range m.Fields {
			if f.Column == column {
				return f, true
			}
		}
		return FieldMeta{}, false
	}
	i, ok := m.byColumn[column]
	if !ok {
		return FieldMeta{}, false
	}
	return m.Fields[i], true
}

// Columns 返回全部物理列名（声明顺序）
func (m *ModelMeta) Columns() []string {
	cols := make([]string, len(m.Fields))
	for i, f := range m.Fields {
		cols[i] = f.Column
	}
	return cols
}
