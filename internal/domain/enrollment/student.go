package enrollment

import (
	"strings"

	"github.com/academy/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// StudentStatus represents whether the student is currently enrolled
type StudentStatus string

const (
	StudentStatusActive   StudentStatus = "active"
	StudentStatusArchived StudentStatus = "archived"
)

// Student is a member of the academy. FaceID is the biometric template
// identifier the turnstile camera reports.
type Student struct {
	shared.BaseEntity
	FirstName string
	LastName  string
	Phone     string
	FaceID    string
	BirthYear int
	GroupID   *uuid.UUID
	Status    StudentStatus
}

// NewStudent creates an active student
func NewStudent(firstName, lastName string, birthYear int) (*Student, error) {
	if strings.TrimSpace(firstName) == "" {
		return nil, shared.NewDomainError("INVALID_NAME", "Student first name cannot be empty")
	}
	return &Student{
		BaseEntity: shared.NewBaseEntity(),
		FirstName:  strings.TrimSpace(firstName),
		LastName:   strings.TrimSpace(lastName),
		BirthYear:  birthYear,
		Status:     StudentStatusActive,
	}, nil
}

// FullName returns "First Last"
func (s *Student) FullName() string {
	return strings.TrimSpace(s.FirstName + " " + s.LastName)
}
