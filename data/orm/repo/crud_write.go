package repo

import (
	"context"
	"fmt"

	"crmkit/data/orm"
	"crmkit/domain/entity"
)

// Insert 插入完整记录
func (r *Repo) Insert(ctx context.Context, rec entity.Record) error {
	row, err := r.toRow(rec)
	if err != nil {
		return err
	}
	return r.model().Create(ctx, row)
}

// Update 按 ID 更新部分字段，记录不存在时返回 ErrNotFound
func (r *Repo) Update(ctx context.Context, id int64, values entity.Record) error {
	if len(values) == 0 {
		return nil
	}
	row, err := r.toRow(values)
	if err != nil {
		return err
	}
	idCol, _ := r.desc.Column(entity.FieldID)
	affected, err := r.model().UpdateValues(ctx, row,
		orm.WithWhere(r.orm.Dialect().QuoteIdentifier(idCol.Column)+" = ?", id))
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func unknownField(desc *entity.Descriptor, field string) error {
	return fmt.Errorf("%w: %s.%s", orm.ErrUnknownColumn, desc.Table, field)
}
