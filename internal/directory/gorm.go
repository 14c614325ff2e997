package directory

import (
	"context"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/eldtechnologies/staffchat/internal/models"
)

var eligibleRoles = []string{
	string(models.RoleAdmin),
	string(models.RoleCoordinator),
	string(models.RoleGuide),
	string(models.RoleSecurity),
}

// userRecord maps the host application's users table.
type userRecord struct {
	ID              string  `gorm:"column:id;primaryKey"`
	FirstName       string  `gorm:"column:first_name"`
	LastName        string  `gorm:"column:last_name"`
	Email           string  `gorm:"column:email"`
	Role            string  `gorm:"column:role"`
	ProfileImageURL *string `gorm:"column:profile_image_url"`
}

func (userRecord) TableName() string {
	return "users"
}

func (r userRecord) toUser() models.User {
	return models.User{
		ID:              r.ID,
		FirstName:       r.FirstName,
		LastName:        r.LastName,
		Email:           r.Email,
		Role:            models.Role(r.Role),
		ProfileImageURL: r.ProfileImageURL,
	}
}

// GormDirectory reads users from PostgreSQL. It never migrates or writes
// the users table.
type GormDirectory struct {
	db *gorm.DB
}

// NewGormDirectory opens a read-only view over the users table.
func NewGormDirectory(databaseURL string) (*GormDirectory, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to directory database: %w", err)
	}
	return &GormDirectory{db: db}, nil
}

// NewGormDirectoryFromDB wraps an open connection.
func NewGormDirectoryFromDB(db *gorm.DB) *GormDirectory {
	return &GormDirectory{db: db}
}

// Close releases the underlying connection pool.
func (d *GormDirectory) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Lookup implements Directory.
func (d *GormDirectory) Lookup(ctx context.Context, ids []string) (map[string]models.User, error) {
	out := make(map[string]models.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var records []userRecord
	err := d.db.WithContext(ctx).
		Where("id IN ? AND role IN ?", ids, eligibleRoles).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("lookup users: %w", err)
	}
	for _, r := range records {
		out[r.ID] = r.toUser()
	}
	return out, nil
}

// List implements Directory.
func (d *GormDirectory) List(ctx context.Context) ([]models.User, error) {
	var records []userRecord
	err := d.db.WithContext(ctx).
		Where("role IN ?", eligibleRoles).
		Order("id").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	users := make([]models.User, len(records))
	for i, r := range records {
		users[i] = r.toUser()
	}
	return users, nil
}
