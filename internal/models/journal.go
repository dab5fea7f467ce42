// internal/models/journal.go
package models

import (
	"time"
)

// JournalEvent is one committed engine event. Seq preserves commit order.
type JournalEvent struct {
	Seq        uint64    `json:"seq" gorm:"primaryKey;autoIncrement"`
	Op         string    `json:"op" gorm:"size:100;not null;index"`
	Type       string    `json:"type" gorm:"size:100;not null;index"`
	EntityKey  string    `json:"entity_key" gorm:"size:100;not null;index"`
	Payload    JSONB     `json:"payload" gorm:"type:jsonb"`
	OccurredAt time.Time `json:"occurred_at" gorm:"not null;index"`
	CreatedAt  time.Time `json:"created_at"`
}

type EngineSnapshot struct {
	BaseModel
	Version int       `json:"version" gorm:"not null"`
	TakenAt time.Time `json:"taken_at" gorm:"not null;index"`
	Data    []byte    `json:"-" gorm:"type:jsonb;not null"`
}
