package main

import (
	"fmt"
	"log"
	"os"

	"gorm.io/gorm"

	"github.com/trellis-pm/trellis/backend/internal/config"
	"github.com/trellis-pm/trellis/backend/internal/database"
	"github.com/trellis-pm/trellis/backend/internal/models"
	"github.com/trellis-pm/trellis/backend/internal/services"
)

// Seeds the database with the builtin role and permission catalog, plus a
// bootstrap administrator and demo projects for local development.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	if err := database.Migrate(db); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}
	fmt.Println("✓ Database migrated successfully")

	if err := services.SeedCatalog(db); err != nil {
		log.Fatal("Failed to seed permission catalog:", err)
	}
	fmt.Println("✓ Permission catalog seeded")

	adminEmail := os.Getenv("TRELLIS_ADMIN_EMAIL")
	adminPassword := os.Getenv("TRELLIS_ADMIN_PASSWORD")
	if adminEmail != "" && adminPassword != "" {
		if err := seedAdmin(db, adminEmail, adminPassword); err != nil {
			log.Fatal("Failed to seed admin user:", err)
		}
		fmt.Printf("✓ Admin user %s ready\n", adminEmail)
	}

	if os.Getenv("TRELLIS_SEED_DEMO") == "true" {
		if err := seedDemoProjects(db); err != nil {
			log.Fatal("Failed to seed demo projects:", err)
		}
		fmt.Println("✓ Demo projects created")
	}
}

func seedAdmin(db *gorm.DB, email, password string) error {
	var existing models.User
	err := db.Where("email = ?", models.NormalizeEmail(email)).First(&existing).Error
	if err == nil {
		return nil
	}

	user := models.User{Email: email, Name: "Administrator", Enabled: true}
	if err := user.SetPassword(password); err != nil {
		return err
	}
	if err := db.Create(&user).Error; err != nil {
		return err
	}

	var role models.Role
	if err := db.Where("name = ?", models.RoleSuperAdmin).First(&role).Error; err != nil {
		return err
	}
	return db.Create(&models.RoleAssignment{
		UserID:   user.ID,
		RoleID:   role.ID,
		IsActive: true,
	}).Error
}

func seedDemoProjects(db *gorm.DB) error {
	demos := []models.Project{
		{Name: "Website Redesign", Key: "WEB"},
		{Name: "Mobile App", Key: "APP"},
		{Name: "Internal Tooling", Key: "TOOL"},
	}
	for _, p := range demos {
		var existing models.Project
		if err := db.Where("key = ?", p.Key).First(&existing).Error; err == nil {
			continue
		}
		if err := db.Create(&p).Error; err != nil {
			return err
		}
	}
	return nil
}
