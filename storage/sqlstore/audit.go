package sqlstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"crmkit/data/orm"
	"crmkit/domain/audited"
	"crmkit/domain/entity"
)

var auditMeta = orm.NewModelMeta("audit_logs",
	orm.FieldMeta{Name: "seq", Column: "seq", Kind: orm.KindInt, PrimaryKey: true},
	orm.FieldMeta{Name: "id", Column: "id", Kind: orm.KindString},
	orm.FieldMeta{Name: "operation", Column: "operation", Kind: orm.KindString},
	orm.FieldMeta{Name: "tableName", Column: "table_name", Kind: orm.KindString},
	orm.FieldMeta{Name: "entityId", Column: "entity_id", Kind: orm.KindInt},
	orm.FieldMeta{Name: "oldValues", Column: "old_values", Kind: orm.KindString},
	orm.FieldMeta{Name: "newValues", Column: "new_values", Kind: orm.KindString},
	orm.FieldMeta{Name: "changedFields", Column: "changed_fields", Kind: orm.KindString},
	orm.FieldMeta{Name: "userId", Column: "user_id", Kind: orm.KindString},
	orm.FieldMeta{Name: "userName", Column: "user_name", Kind: orm.KindString},
	orm.FieldMeta{Name: "userRole", Column: "user_role", Kind: orm.KindString},
	orm.FieldMeta{Name: "ipAddress", Column: "ip_address", Kind: orm.KindString},
	orm.FieldMeta{Name: "userAgent", Column: "user_agent", Kind: orm.KindString},
	orm.FieldMeta{Name: "reason", Column: "reason", Kind: orm.KindString},
	orm.FieldMeta{Name: "riskLevel", Column: "risk_level", Kind: orm.KindString},
	orm.FieldMeta{Name: "createdAt", Column: "created_at", Kind: orm.KindTime},
)

// encodeAudit 快照与变更字段以 JSON 文本写入，nil 写为 NULL
func encodeAudit(rec *audited.Record) (orm.Row, error) {
	oldValues, err := jsonOrNil(rec.OldValues, rec.OldValues == nil)
	if err != nil {
		return nil, fmt.Errorf("encode old values: %w", err)
	}
	newValues, err := jsonOrNil(rec.NewValues, rec.NewValues == nil)
	if err != nil {
		return nil, fmt.Errorf("encode new values: %w", err)
	}
	changed, err := jsonOrNil(rec.ChangedFields, rec.ChangedFields == nil)
	if err != nil {
		return nil, fmt.Errorf("encode changed fields: %w", err)
	}
	return orm.Row{
		"id":             rec.ID,
		"operation":      string(rec.Operation),
		"table_name":     rec.TableName,
		"entity_id":      rec.EntityID,
		"old_values":     oldValues,
		"new_values":     newValues,
		"changed_fields": changed,
		"user_id":        rec.UserID,
		"user_name":      rec.UserName,
		"user_role":      rec.UserRole,
		"ip_address":     rec.IPAddress,
		"user_agent":     rec.UserAgent,
		"reason":         rec.Reason,
		"risk_level":     string(rec.RiskLevel),
		"created_at":     rec.CreatedAt,
	}, nil
}

func jsonOrNil(v any, isNil bool) (any, error) {
	if isNil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *Store) decodeAudit(row orm.Row) (*audited.Record, error) {
	rec := &audited.Record{
		ID:        str(row["id"]),
		Operation: audited.Operation(str(row["operation"])),
		TableName: str(row["table_name"]),
		UserID:    str(row["user_id"]),
		UserName:  str(row["user_name"]),
		UserRole:  str(row["user_role"]),
		IPAddress: str(row["ip_address"]),
		UserAgent: str(row["user_agent"]),
		Reason:    str(row["reason"]),
		RiskLevel: audited.RiskLevel(str(row["risk_level"])),
	}
	rec.EntityID, _ = row["entity_id"].(int64)
	rec.CreatedAt, _ = row["created_at"].(time.Time)

	desc := s.descriptorFor(rec.TableName)
	var err error
	if rec.OldValues, err = decodeSnapshot(desc, row["old_values"]); err != nil {
		return nil, err
	}
	if rec.NewValues, err = decodeSnapshot(desc, row["new_values"]); err != nil {
		return nil, err
	}
	if raw := str(row["changed_fields"]); raw != "" {
		if err := json.Unmarshal([]byte(raw), &rec.ChangedFields); err != nil {
			return nil, fmt.Errorf("changed fields: %w", err)
		}
	}
	return rec, nil
}

func (s *Store) descriptorFor(table string) *entity.Descriptor {
	for _, d := range s.registry.Descriptors() {
		if d.Table == table {
			return d
		}
	}
	return nil
}

// decodeSnapshot 按列类型还原快照中的值；未知列保留 JSON 值
func decodeSnapshot(desc *entity.Descriptor, v any) (entity.Record, error) {
	raw := str(v)
	if raw == "" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	if m == nil {
		return nil, nil
	}

	rec := make(entity.Record, len(m))
	for k, val := range m {
		if desc != nil {
			if c, ok := desc.Column(k); ok {
				coerced, err := c.Coerce(val)
				if err != nil {
					return nil, fmt.Errorf("snapshot field %s: %w", k, err)
				}
				rec[k] = coerced
				continue
			}
		}
		rec[k] = val
	}
	return rec, nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
