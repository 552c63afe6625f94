package repository

import (
	"time"

	"gorm.io/gorm"

	"stoflow/internal/models"
)

// CredentialRepository stores per-tenant OAuth2 refresh material.
type CredentialRepository struct {
	db *gorm.DB
}

func NewCredentialRepository(db *gorm.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

func (r *CredentialRepository) Find(tenantID, marketplace string) (*models.Credential, error) {
	var cred models.Credential
	err := r.db.Where("tenant_id = ? AND marketplace = ?", tenantID, marketplace).
		First(&cred).Error
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

// Upsert stores or replaces the connection for a tenant/marketplace pair.
func (r *CredentialRepository) Upsert(cred *models.Credential) error {
	var existing models.Credential
	err := r.db.Where("tenant_id = ? AND marketplace = ?", cred.TenantID, cred.Marketplace).
		First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		return r.db.Create(cred).Error
	}
	if err != nil {
		return err
	}
	return r.db.Model(&models.Credential{}).
		Where("id = ?", existing.ID).
		Updates(map[string]interface{}{
			"access_token":  cred.AccessToken,
			"refresh_token": cred.RefreshToken,
			"expires_at":    cred.ExpiresAt,
		}).Error
}

// UpdateToken records a refreshed access token.
func (r *CredentialRepository) UpdateToken(tenantID, marketplace, accessToken, refreshToken string, expiresAt time.Time) error {
	updates := map[string]interface{}{
		"access_token": accessToken,
		"expires_at":   expiresAt,
	}
	if refreshToken != "" {
		updates["refresh_token"] = refreshToken
	}
	return r.db.Model(&models.Credential{}).
		Where("tenant_id = ? AND marketplace = ?", tenantID, marketplace).
		Updates(updates).Error
}
