package audit

import (
	"time"

	"github.com/google/uuid"
)

type Action string

const (
	ActionRegister             Action = "auth.register"
	ActionLoginSuccess         Action = "auth.login.success"
	ActionLoginFailure         Action = "auth.login.failure"
	ActionAccountLocked        Action = "auth.account.locked"
	ActionLogout               Action = "auth.logout"
	ActionRefreshReuse         Action = "auth.refresh.reuse"
	ActionResetRequested       Action = "auth.password_reset.requested"
	ActionResetCompleted       Action = "auth.password_reset.completed"
	ActionPasswordChanged      Action = "user.password.changed"
	ActionProfileUpdated       Action = "user.profile.updated"
	ActionAdminBootstrapped    Action = "admin.bootstrap"
	ActionAdminUserDisabled    Action = "admin.user.disabled"
	ActionAdminUserEnabled     Action = "admin.user.enabled"
	ActionAdminRoleChanged     Action = "admin.user.role_changed"
	ActionAdminUserUnlocked    Action = "admin.user.unlocked"
	ActionAdminSessionsRevoked Action = "admin.user.sessions_revoked"
)

type Entry struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ActorID   *uuid.UUID `gorm:"type:uuid;index" json:"actorId,omitempty"`
	TargetID  *uuid.UUID `gorm:"type:uuid;index" json:"targetId,omitempty"`
	Action    Action     `gorm:"not null" json:"action"`
	IP        string     `gorm:"not null;default:''" json:"ip,omitempty"`
	Detail    string     `gorm:"not null;default:''" json:"detail,omitempty"`
	CreatedAt time.Time  `gorm:"index" json:"createdAt"`
}

func (Entry) TableName() string {
	return "audit_logs"
}

// Filter narrows List; a nil UserID matches every entry.
type Filter struct {
	UserID *uuid.UUID
	Limit  int
	Offset int
}
