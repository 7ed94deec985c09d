package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"crmkit/domain/entity"
	sharederrors "crmkit/errors"
)

// TestValidateStringLength 测试字符串长度验证
func TestValidateStringLength(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		min     int
		max     int
		wantErr bool
	}{
		{name: "有效长度", value: "hello", min: 3, max: 10},
		{name: "长度太短", value: "ab", min: 3, max: 10, wantErr: true},
		{name: "长度太长", value: "abcdefghijk", min: 3, max: 10, wantErr: true},
		{name: "最大边界值", value: "abcdefghij", min: 3, max: 10},
		{name: "不限上限", value: strings.Repeat("x", 5000), min: 0, max: 0},
		{name: "按字符计", value: "维修服务", min: 0, max: 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStringLength(tt.value, "title", tt.min, tt.max)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.True(t, sharederrors.IsValidation(err))
			assert.Equal(t, "title", sharederrors.Detail(err, "field"))
		})
	}
}

func TestValidateRequired(t *testing.T) {
	assert.NoError(t, ValidateRequired("x", "title"))
	for _, v := range []string{"", "   ", "\t\n"} {
		err := ValidateRequired(v, "title")
		assert.True(t, sharederrors.IsValidation(err))
		assert.Equal(t, sharederrors.KindMalformed, sharederrors.Detail(err, "kind"))
	}
}

func TestValidateID(t *testing.T) {
	assert.NoError(t, ValidateID(1, "id"))
	assert.Error(t, ValidateID(0, "id"))
	assert.Error(t, ValidateID(-5, "id"))
}

func TestRecordValidator_Validate(t *testing.T) {
	desc := entity.Default().MustLookup(entity.ServiceOrders)

	tests := []struct {
		name      string
		v         RecordValidator
		rec       any
		wantField string
	}{
		{name: "完整记录", v: ForCreate(desc), rec: entity.Record{"title": "Pump", "category": "repair"}},
		{name: "缺少必填", v: ForCreate(desc), rec: entity.Record{"title": "Pump"}, wantField: "category"},
		{name: "必填为nil", v: ForCreate(desc), rec: entity.Record{"title": nil, "category": "repair"}, wantField: "title"},
		{name: "必填为空白", v: ForCreate(desc), rec: entity.Record{"title": "  ", "category": "repair"}, wantField: "title"},
		{name: "超长", v: ForCreate(desc), rec: entity.Record{"title": "Pump", "category": strings.Repeat("c", 51)}, wantField: "category"},
		{name: "补丁只校验出现的字段", v: ForPatch(desc), rec: entity.Record{"status": "open"}},
		{name: "补丁清空必填", v: ForPatch(desc), rec: entity.Record{"title": ""}, wantField: "title"},
		{name: "非记录类型", v: ForCreate(desc), rec: map[string]string{}, wantField: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.v.Validate(tt.rec)
			if tt.wantField == "" && tt.name != "非记录类型" {
				assert.NoError(t, err)
				return
			}
			assert.True(t, sharederrors.IsValidation(err))
			if tt.wantField != "" {
				assert.Equal(t, tt.wantField, sharederrors.Detail(err, "field"))
			}
		})
	}
}
