package persistence

import (
	"context"
	"errors"
	"strings"

	"github.com/academy/backend/internal/domain/enrollment"
	"github.com/academy/backend/internal/domain/shared"
	"github.com/academy/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormStudentRepository implements enrollment.StudentRepository using GORM
type GormStudentRepository struct {
	db *gorm.DB
}

// NewGormStudentRepository creates a new GormStudentRepository
func NewGormStudentRepository(db *gorm.DB) *GormStudentRepository {
	return &GormStudentRepository{db: db}
}

// FindByID finds a student by its ID
func (r *GormStudentRepository) FindByID(ctx context.Context, id uuid.UUID) (*enrollment.Student, error) {
	var m models.StudentModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// FindByFaceID finds a student by the biometric identifier reported by the turnstile
func (r *GormStudentRepository) FindByFaceID(ctx context.Context, faceID string) (*enrollment.Student, error) {
	faceID = strings.TrimSpace(faceID)
	if faceID == "" {
		return nil, shared.ErrNotFound
	}
	var m models.StudentModel
	if err := r.db.WithContext(ctx).First(&m, "face_id = ?", faceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// FindActiveByGroup lists active students, optionally restricted to a group
func (r *GormStudentRepository) FindActiveByGroup(ctx context.Context, groupID *uuid.UUID) ([]enrollment.Student, error) {
	query := r.db.WithContext(ctx).Where("status = ?", string(enrollment.StudentStatusActive))
	if groupID != nil {
		query = query.Where("group_id = ?", *groupID)
	}

	var ms []models.StudentModel
	if err := query.Order("last_name ASC, first_name ASC").Find(&ms).Error; err != nil {
		return nil, err
	}
	students := make([]enrollment.Student, len(ms))
	for i := range ms {
		students[i] = *ms[i].ToDomain()
	}
	return students, nil
}

// Create inserts a new student
func (r *GormStudentRepository) Create(ctx context.Context, student *enrollment.Student) error {
	if err := r.db.WithContext(ctx).Create(models.StudentModelFromDomain(student)).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return shared.ErrAlreadyExists
		}
		return err
	}
	return nil
}

var _ enrollment.StudentRepository = (*GormStudentRepository)(nil)
