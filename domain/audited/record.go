// Package audited 计算并写入实体变更的审计记录：字段级差异、风险等级、操作者上下文。
//
// 审计记录只追加，随业务写入在同一事务内提交，写入后不再修改。
package audited

import (
	"time"

	"crmkit/domain/entity"
)

// Operation 审计操作类型
type Operation string

const (
	OpCreate  Operation = "create"
	OpUpdate  Operation = "update"
	OpDelete  Operation = "delete"
	OpRestore Operation = "restore"
)

// Valid 是否为已知操作
func (o Operation) Valid() bool {
	switch o {
	case OpCreate, OpUpdate, OpDelete, OpRestore:
		return true
	}
	return false
}

// RiskLevel 风险等级
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// SystemActor 未提供操作者时写入 createdBy/updatedBy 的值
const SystemActor = "system"

// Actor 操作者上下文，由认证层提供并原样写入审计记录
type Actor struct {
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	UserRole  string `json:"userRole"`
	IPAddress string `json:"ipAddress"`
	UserAgent string `json:"userAgent"`
	Reason    string `json:"reason"`
}

// By 用于 createdBy/updatedBy 的标识
func (a Actor) By() string {
	if a.UserID == "" {
		return SystemActor
	}
	return a.UserID
}

// Record 审计记录
type Record struct {
	ID            string        `json:"id"`
	Operation     Operation     `json:"operation"`
	TableName     string        `json:"tableName"`
	EntityID      int64         `json:"entityId"`
	OldValues     entity.Record `json:"oldValues"`
	NewValues     entity.Record `json:"newValues"`
	ChangedFields []string      `json:"changedFields,omitempty"`
	UserID        string        `json:"userId"`
	UserName      string        `json:"userName"`
	UserRole      string        `json:"userRole"`
	IPAddress     string        `json:"ipAddress"`
	UserAgent     string        `json:"userAgent"`
	Reason        string        `json:"reason"`
	RiskLevel     RiskLevel     `json:"riskLevel"`
	CreatedAt     time.Time     `json:"createdAt"`
}

// Actor 还原记录中的操作者上下文
func (r *Record) Actor() Actor {
	return Actor{
		UserID:    r.UserID,
		UserName:  r.UserName,
		UserRole:  r.UserRole,
		IPAddress: r.IPAddress,
		UserAgent: r.UserAgent,
		Reason:    r.Reason,
	}
}
