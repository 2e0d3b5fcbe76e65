package model

import (
	"time"

	"gorm.io/gorm"
)

// SearchTerm is a managed subject filter used by the mailbox search
type SearchTerm struct {
	ID        uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	Term      string         `json:"term" gorm:"type:varchar(255);not null;uniqueIndex"`
	Enabled   bool           `json:"enabled" gorm:"default:true"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// TableName specifies the table name for SearchTerm
func (SearchTerm) TableName() string {
	return "search_terms"
}
