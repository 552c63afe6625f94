package models

import "time"

// Credential stores OAuth2 material for a tenant's marketplace connection.
// Access tokens are cached in memory by the transport; this row is the
// durable refresh material.
type Credential struct {
	ID           uint      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	TenantID     string    `gorm:"column:tenant_id;size:64;uniqueIndex:idx_credentials_tenant_marketplace,priority:1" json:"tenant_id"`
	Marketplace  string    `gorm:"column:marketplace;size:20;uniqueIndex:idx_credentials_tenant_marketplace,priority:2" json:"marketplace"`
	AccessToken  string    `gorm:"column:access_token;type:text" json:"-"`
	RefreshToken string    `gorm:"column:refresh_token;type:text" json:"-"`
	ExpiresAt    time.Time `gorm:"column:expires_at" json:"expires_at"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Credential) TableName() string {
	return "marketplace_credentials"
}
