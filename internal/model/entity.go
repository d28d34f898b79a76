package model

import (
	"time"

	"gorm.io/gorm"
)

// BridgeRecord is a provisioned bridge (GORM). Upload authentication falls back to it
// when the credential store does not know the bridge.
type BridgeRecord struct {
	ID         string    `gorm:"size:64;primaryKey"`
	UserID     string    `gorm:"size:128;not null;index"`
	CameraID   string    `gorm:"size:128;not null"`
	RTSPURL    string    `gorm:"column:rtsp_url;size:1024"`
	APIKey     string    `gorm:"column:api_key;size:256;not null"`
	BackendURL string    `gorm:"column:backend_url;size:512"`
	Status     string    `gorm:"size:20;not null;default:pending"` // pending, online, offline
	CreatedAt  time.Time `gorm:"autoCreateTime"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

func (BridgeRecord) TableName() string { return "bridges" }

// BridgeCredential is the write-through copy of a credential store entry (GORM).
type BridgeCredential struct {
	BridgeID    string         `gorm:"column:bridge_id;size:64;primaryKey"`
	APIKey      string         `gorm:"column:api_key;size:256;not null"`
	DisplayName string         `gorm:"column:display_name;size:255"`
	CreatedAt   time.Time      `gorm:"column:created_at;not null"`
	DeletedAt   gorm.DeletedAt `gorm:"column:deleted_at;index"` // set on revoke; the row stays as a tombstone
}

func (BridgeCredential) TableName() string { return "bridge_credentials" }
