package model

import (
	"time"

	"gorm.io/gorm"
)

// DocumentLog records one attachment or link attempted for a message
type DocumentLog struct {
	ID                 uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	ProcessedMessageID uint           `json:"processed_message_id" gorm:"not null;index"`
	Source             string         `json:"source" gorm:"type:text"`
	Provenance         string         `json:"provenance" gorm:"type:varchar(50)"`
	Path               string         `json:"path" gorm:"type:text"`
	Status             string         `json:"status" gorm:"type:varchar(50);not null"`
	ErrorMsg           string         `json:"error_msg" gorm:"type:text"`
	CreatedAt          time.Time      `json:"created_at"`
	DeletedAt          gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// TableName specifies the table name for DocumentLog
func (DocumentLog) TableName() string {
	return "document_logs"
}
