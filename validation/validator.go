// Package validation 提供写入载荷的字段级校验，错误统一为 VALIDATION_ERROR 并携带字段名。
package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"crmkit/domain/entity"
	"crmkit/errors"
)

// IValidator 定义通用验证器接口
type IValidator interface {
	Validate(value any) error
}

// ValidateRequired 验证必填字段
func ValidateRequired(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return errors.NewFieldError(errors.KindMalformed, fieldName,
			fmt.Sprintf("%s不能为空", fieldName))
	}
	return nil
}

// ValidateStringLength 验证字符串长度（按字符计），max 为 0 表示不限
func ValidateStringLength(value, fieldName string, min, max int) error {
	length := utf8.RuneCountInString(value)
	if length < min {
		return errors.NewFieldError(errors.KindMalformed, fieldName,
			fmt.Sprintf("%s长度不能少于%d个字符（当前%d）", fieldName, min, length))
	}
	if max > 0 && length > max {
		return errors.NewFieldError(errors.KindMalformed, fieldName,
			fmt.Sprintf("%s长度不能超过%d个字符（当前%d）", fieldName, max, length))
	}
	return nil
}

// ValidateID 验证ID有效性
func ValidateID(id int64, fieldName string) error {
	if id <= 0 {
		return errors.NewFieldError(errors.KindMalformed, fieldName,
			fmt.Sprintf("%s必须为正整数", fieldName))
	}
	return nil
}

// RecordValidator 按实体描述校验已归一化的记录
type RecordValidator struct {
	desc *entity.Descriptor

	// Partial 为 true 时只校验记录中出现的字段（用于更新补丁）
	Partial bool
}

var _ IValidator = RecordValidator{}

// ForCreate 返回新建记录的校验器
func ForCreate(desc *entity.Descriptor) RecordValidator {
	return RecordValidator{desc: desc}
}

// ForPatch 返回更新补丁的校验器
func ForPatch(desc *entity.Descriptor) RecordValidator {
	return RecordValidator{desc: desc, Partial: true}
}

// Validate 按列顺序校验必填与长度，返回第一个错误
func (v RecordValidator) Validate(value any) error {
	rec, ok := value.(entity.Record)
	if !ok {
		return errors.NewValidationError(fmt.Sprintf("unexpected payload type %T", value))
	}

	for _, c := range v.desc.Writable() {
		raw, present := rec[c.Field]
		if !present && v.Partial {
			continue
		}
		if c.Required && (raw == nil || !present) {
			return errors.NewFieldError(errors.KindMalformed, c.Field,
				fmt.Sprintf("%s不能为空", c.Field))
		}
		s, isString := raw.(string)
		if !isString {
			continue
		}
		if c.Required {
			if err := ValidateRequired(s, c.Field); err != nil {
				return err
			}
		}
		if c.MaxLength > 0 {
			if err := ValidateStringLength(s, c.Field, 0, c.MaxLength); err != nil {
				return err
			}
		}
	}
	return nil
}
