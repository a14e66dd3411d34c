package services

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/trellis-pm/trellis/backend/internal/models"
)

// SeedCatalog loads the builtin permission and role catalog. Idempotent:
// existing rows are left alone, missing ones are created, and each role's
// permission set is brought up to date. Permissions are never removed.
func SeedCatalog(db *gorm.DB) error {
	for _, p := range models.BuiltinPermissions {
		perm := p
		var existing models.Permission
		err := db.Where("name = ?", perm.Name).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if err := db.Create(&perm).Error; err != nil {
				return fmt.Errorf("seed permission %s: %w", perm.Name, err)
			}
			continue
		}
		if err != nil {
			return err
		}
	}

	for _, r := range models.BuiltinRoles {
		role := r
		var existing models.Role
		err := db.Where("name = ?", role.Name).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if err := db.Create(&role).Error; err != nil {
				return fmt.Errorf("seed role %s: %w", role.Name, err)
			}
			existing = role
		} else if err != nil {
			return err
		}

		names := models.BuiltinRolePermissions[role.Name]
		if len(names) == 0 {
			continue
		}
		var perms []models.Permission
		if err := db.Where("name IN ?", names).Find(&perms).Error; err != nil {
			return err
		}
		if err := db.Model(&existing).Association("Permissions").Replace(perms); err != nil {
			return fmt.Errorf("bind permissions for role %s: %w", role.Name, err)
		}
	}
	return nil
}

// ListRoles returns the role catalog ordered by display priority.
func ListRoles(db *gorm.DB) ([]models.Role, error) {
	var roles []models.Role
	err := db.Preload("Permissions").Order("priority DESC").Find(&roles).Error
	return roles, err
}

// ListPermissions returns the permission catalog grouped by category.
func ListPermissions(db *gorm.DB) ([]models.Permission, error) {
	var perms []models.Permission
	err := db.Order("category, name").Find(&perms).Error
	return perms, err
}
