package database

import (
	"fmt"
	"log"
	"os"

	"github.com/outcome-edu/obe-backend/model"
	"github.com/outcome-edu/obe-backend/utils/auth"
	"gorm.io/gorm"
)

// RunSeeds populates the baseline data a fresh deployment needs: the admin
// account and the institution's program outcomes.
func RunSeeds(db *gorm.DB) error {
	if err := seedAdminUser(db); err != nil {
		return err
	}
	return seedProgramOutcomes(db)
}

// seedAdminUser creates the admin account from ADMIN_EMAIL / ADMIN_PASSWORD.
// Skipped when the variables are unset or the account already exists.
func seedAdminUser(db *gorm.DB) error {
	email := os.Getenv("ADMIN_EMAIL")
	password := os.Getenv("ADMIN_PASSWORD")
	if email == "" || password == "" {
		log.Println("ADMIN_EMAIL/ADMIN_PASSWORD not set, skipping admin seed")
		return nil
	}

	var existing model.User
	if err := db.Where("email = ?", email).First(&existing).Error; err == nil {
		log.Printf("Admin user %s already exists, skipping", email)
		return nil
	} else if err != gorm.ErrRecordNotFound {
		return fmt.Errorf("check admin user: %w", err)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	admin := model.User{
		Email:        email,
		PasswordHash: hash,
		Name:         "Administrator",
		Role:         model.RoleAdmin,
	}
	if err := db.Create(&admin).Error; err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	log.Printf("Seeded admin user %s", email)
	return nil
}

// seedProgramOutcomes inserts the standard PO list used by accreditation
// frameworks. Idempotent: existing codes are left untouched.
func seedProgramOutcomes(db *gorm.DB) error {
	outcomes := []model.ProgramOutcome{
		{Code: "PO1", Type: model.OutcomeTypePO, Statement: "Apply knowledge of mathematics, science and engineering fundamentals to solve complex problems."},
		{Code: "PO2", Type: model.OutcomeTypePO, Statement: "Identify, formulate and analyze complex engineering problems using first principles."},
		{Code: "PO3", Type: model.OutcomeTypePO, Statement: "Design solutions for complex problems that meet specified needs with appropriate consideration for public health, safety and the environment."},
		{Code: "PO4", Type: model.OutcomeTypePO, Statement: "Use research-based knowledge and methods to conduct investigations of complex problems."},
		{Code: "PO5", Type: model.OutcomeTypePO, Statement: "Select and apply appropriate techniques and modern tools to engineering activities."},
		{Code: "PO6", Type: model.OutcomeTypePO, Statement: "Assess societal, health, safety and legal issues relevant to professional engineering practice."},
	}

	for _, po := range outcomes {
		var existing model.ProgramOutcome
		err := db.Where("code = ?", po.Code).First(&existing).Error
		if err == nil {
			continue
		}
		if err != gorm.ErrRecordNotFound {
			return fmt.Errorf("check program outcome %s: %w", po.Code, err)
		}
		if err := db.Create(&po).Error; err != nil {
			return fmt.Errorf("create program outcome %s: %w", po.Code, err)
		}
		log.Printf("Seeded program outcome %s", po.Code)
	}

	return nil
}
