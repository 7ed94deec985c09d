// Package repo 在 orm 之上提供以实体描述驱动的记录仓储。
//
// 逻辑字段（entity.Record）与物理列（orm.Row）之间的映射只来自注册表，
// 查询条件由 query.Condition 渲染为参数化表达式，值从不拼接进 SQL。
package repo

import (
	"sync"

	"crmkit/data/orm"
	"crmkit/domain/entity"
)

// Repo 单个实体的记录仓储，绑定到 IOrm 或事务会话
type Repo struct {
	orm  orm.IOrm
	desc *entity.Descriptor
	meta *orm.ModelMeta
}

// New 创建仓储
func New(o orm.IOrm, desc *entity.Descriptor) *Repo {
	return &Repo{orm: o, desc: desc, meta: MetaFor(desc)}
}

// Descriptor 返回实体描述
func (r *Repo) Descriptor() *entity.Descriptor { return r.desc }

func (r *Repo) model() orm.IModel { return r.orm.Model(r.meta) }

var metas sync.Map // *entity.Descriptor -> *orm.ModelMeta

// MetaFor 返回实体描述对应的模型元信息（按描述缓存）
func MetaFor(desc *entity.Descriptor) *orm.ModelMeta {
	if m, ok := metas.Load(desc); ok {
		return m.(*orm.ModelMeta)
	}
	fields := make([]orm.FieldMeta, len(desc.Columns))
	for i, c := range desc.Columns {
		fields[i] = orm.FieldMeta{
			Name:       c.Field,
			Column:     c.Column,
			Kind:       KindOf(c.Type),
			PrimaryKey: c.Field == entity.FieldID,
		}
	}
	m, _ := metas.LoadOrStore(desc, orm.NewModelMeta(desc.Table, fields...))
	return m.(*orm.ModelMeta)
}

// KindOf 列类型到 orm 归一化类型
func KindOf(t entity.ColumnType) orm.Kind {
	switch t {
	case entity.TypeInt:
		return orm.KindInt
	case entity.TypeFloat:
		return orm.KindFloat
	case entity.TypeBool:
		return orm.KindBool
	case entity.TypeTime:
		return orm.KindTime
	default:
		return orm.KindString
	}
}

// toRecord 物理列 → 逻辑字段
func (r *Repo) toRecord(row orm.Row) entity.Record {
	rec := make(entity.Record, len(row))
	for _, c := range r.desc.Columns {
		if v, ok := row[c.Column]; ok {
			rec[c.Field] = v
		}
	}
	return rec
}

// toRow 逻辑字段 → 物理列，未知字段报错
func (r *Repo) toRow(rec entity.Record) (orm.Row, error) {
	row := make(orm.Row, len(rec))
	for field, v := range rec {
		c, ok := r.desc.Column(field)
		if !ok {
			return nil, unknownField(r.desc, field)
		}
		row[c.Column] = v
	}
	return row, nil
}
