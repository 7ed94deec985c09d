package audited

import "context"

// IWriter 审计写入端，总是调用方已打开的事务
type IWriter interface {
	AppendAudit(ctx context.Context, rec *Record) error
}

// IReader 审计轨迹查询
type IReader interface {
	// AuditTrail 按实体查询审计记录，按写入顺序
	AuditTrail(ctx context.Context, table string, entityID int64, offset, limit int) ([]*Record, error)
}
