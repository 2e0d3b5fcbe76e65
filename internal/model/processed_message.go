package model

import (
	"time"

	"gorm.io/gorm"
)

// ProcessedMessage is one journal entry per mailbox message handled by a cycle
type ProcessedMessage struct {
	ID                uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	MailboxID         string         `json:"mailbox_id" gorm:"type:varchar(255);not null;index"`
	Subject           string         `json:"subject" gorm:"type:varchar(998)"`
	Sender            string         `json:"sender" gorm:"type:varchar(255)"`
	Status            string         `json:"status" gorm:"type:varchar(50);not null;index"`
	ErrorMsg          string         `json:"error_msg" gorm:"type:text"`
	DocumentsFound    int            `json:"documents_found"`
	InvoicesExtracted int            `json:"invoices_extracted"`
	ProcessedAt       time.Time      `json:"processed_at" gorm:"index"`
	DeletedAt         gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`

	Documents []DocumentLog `json:"documents,omitempty" gorm:"foreignKey:ProcessedMessageID"`
}

// TableName specifies the table name for ProcessedMessage
func (ProcessedMessage) TableName() string {
	return "processed_messages"
}
