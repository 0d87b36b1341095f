package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TenantRepository manages tenant records.
type TenantRepository struct {
	db *gorm.DB
}

// NewTenantRepository creates a TenantRepository.
func NewTenantRepository(db *gorm.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

// EnsureTenant creates the named tenant if it doesn't exist and returns its ID.
func (r *TenantRepository) EnsureTenant(ctx context.Context, name string) (uuid.UUID, error) {
	if name == "" {
		name = "default"
	}
	slug := toSlug(name)

	var tenant TenantModel
	err := r.db.WithContext(ctx).Where("slug = ?", slug).First(&tenant).Error
	if err == nil {
		return tenant.ID, nil
	}
	if err != gorm.ErrRecordNotFound {
		return uuid.Nil, fmt.Errorf("looking up tenant %q: %w", slug, err)
	}

	tenant = TenantModel{
		ID:   uuid.New(),
		Name: name,
		Slug: slug,
	}
	if err := r.db.WithContext(ctx).Create(&tenant).Error; err != nil {
		return uuid.Nil, fmt.Errorf("creating tenant %q: %w", name, err)
	}
	return tenant.ID, nil
}

func toSlug(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, " ", "-")
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "default"
	}
	return b.String()
}
