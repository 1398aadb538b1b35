package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kasuganosora/escaperoom/server/model"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrBadCredentials = errors.New("invalid credentials")
	ErrAdminDisabled  = errors.New("account disabled")
	ErrUsernameTaken  = errors.New("username already taken")
)

const adminHashCost = 12

// SignInAdmin checks an admin's password and records the sign-in. An unknown
// username is registered with the given password; created reports that.
func SignInAdmin(ctx context.Context, db *gorm.DB, username, password, ip string, now time.Time) (admin *model.Admin, created bool, err error) {
	admin = &model.Admin{}
	err = db.WithContext(ctx).Where("username = ?", username).First(admin).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if admin, err = registerAdmin(ctx, db, username, password); err != nil {
			return nil, false, err
		}
		created = true
	case err != nil:
		return nil, false, fmt.Errorf("load admin %s: %w", username, err)
	default:
		if bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)) != nil {
			return nil, false, ErrBadCredentials
		}
		if admin.Status == model.AdminDisabled {
			return nil, false, ErrAdminDisabled
		}
	}

	// Best-effort; a failed write does not block the sign-in.
	_ = db.WithContext(ctx).Model(admin).Updates(map[string]interface{}{
		"last_login_at": now,
		"last_login_ip": ip,
	}).Error
	return admin, created, nil
}

func registerAdmin(ctx context.Context, db *gorm.DB, username, password string) (*model.Admin, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), adminHashCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	admin := &model.Admin{
		Username:     username,
		PasswordHash: string(hash),
		Status:       model.AdminActive,
	}
	if err := db.WithContext(ctx).Create(admin).Error; err != nil {
		// Another request registered the same name first.
		if isUniqueViolation(err) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("register admin: %w", err)
	}
	return admin, nil
}

// GetAdmin loads an admin by id.
func GetAdmin(ctx context.Context, db *gorm.DB, id string) (*model.Admin, error) {
	var a model.Admin
	if err := db.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "admin", id)
	}
	return &a, nil
}

// isUniqueViolation detects duplicate-key errors from the supported drivers.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") ||
		strings.Contains(msg, "duplicate") ||
		strings.Contains(msg, "already exists")
}
