// internal/models/admin.go
package models

type AuditLog struct {
	BaseModel
	Actor        string `json:"actor" gorm:"size:42;index"`
	Action       string `json:"action" gorm:"size:100;not null;index"`
	ResourceType string `json:"resource_type" gorm:"size:50;not null;index"`
	ResourceID   string `json:"resource_id" gorm:"size:66;index"`
	Request      JSONB  `json:"request" gorm:"type:jsonb"`
	Status       int    `json:"status" gorm:"not null"`
	IPAddress    string `json:"ip_address" gorm:"size:45"`
	UserAgent    string `json:"user_agent" gorm:"type:text"`
}
