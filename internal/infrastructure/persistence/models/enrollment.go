package models

import (
	"time"

	"github.com/academy/backend/internal/domain/enrollment"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GroupModel is the persistence model for the Group entity.
type GroupModel struct {
	BaseModel
	Identifier  string `gorm:"type:varchar(32);not null;uniqueIndex:idx_group_identifier_year,priority:1"`
	Name        string `gorm:"type:varchar(200);not null"`
	BirthYear   int    `gorm:"not null"`
	Capacity    int    `gorm:"not null"`
	ArchiveYear int    `gorm:"not null;uniqueIndex:idx_group_identifier_year,priority:2;index"`
	Status      string `gorm:"type:varchar(20);not null;default:'active'"`
}

// TableName returns the table name for GORM
func (GroupModel) TableName() string {
	return "training_groups"
}

// ToDomain converts the persistence model to a domain Group entity.
func (m *GroupModel) ToDomain() *enrollment.Group {
	return &enrollment.Group{
		BaseEntity:  m.BaseModel.ToDomain(),
		Identifier:  m.Identifier,
		Name:        m.Name,
		BirthYear:   m.BirthYear,
		Capacity:    m.Capacity,
		ArchiveYear: m.ArchiveYear,
		Status:      enrollment.GroupStatus(m.Status),
	}
}

// GroupModelFromDomain creates a new persistence model from a domain Group entity.
func GroupModelFromDomain(g *enrollment.Group) *GroupModel {
	m := &GroupModel{
		Identifier:  g.Identifier,
		Name:        g.Name,
		BirthYear:   g.BirthYear,
		Capacity:    g.Capacity,
		ArchiveYear: g.ArchiveYear,
		Status:      string(g.Status),
	}
	m.FromDomainBaseEntity(g.BaseEntity)
	return m
}

// StudentModel is the persistence model for the Student entity.
type StudentModel struct {
	BaseModel
	FirstName string     `gorm:"type:varchar(100);not null"`
	LastName  string     `gorm:"type:varchar(100)"`
	Phone     string     `gorm:"type:varchar(32)"`
	FaceID    *string    `gorm:"type:varchar(100);uniqueIndex"`
	BirthYear int        `gorm:"not null"`
	GroupID   *uuid.UUID `gorm:"type:uuid;index"`
	Status    string     `gorm:"type:varchar(20);not null;default:'active'"`
}

// TableName returns the table name for GORM
func (StudentModel) TableName() string {
	return "students"
}

// ToDomain converts the persistence model to a domain Student entity.
func (m *StudentModel) ToDomain() *enrollment.Student {
	s := &enrollment.Student{
		BaseEntity: m.BaseModel.ToDomain(),
		FirstName:  m.FirstName,
		LastName:   m.LastName,
		Phone:      m.Phone,
		BirthYear:  m.BirthYear,
		GroupID:    m.GroupID,
		Status:     enrollment.StudentStatus(m.Status),
	}
	if m.FaceID != nil {
		s.FaceID = *m.FaceID
	}
	return s
}

// StudentModelFromDomain creates a new persistence model from a domain Student entity.
// An empty face id is stored as NULL so the unique index ignores it.
func StudentModelFromDomain(s *enrollment.Student) *StudentModel {
	m := &StudentModel{
		FirstName: s.FirstName,
		LastName:  s.LastName,
		Phone:     s.Phone,
		BirthYear: s.BirthYear,
		GroupID:   s.GroupID,
		Status:    string(s.Status),
	}
	if s.FaceID != "" {
		faceID := s.FaceID
		m.FaceID = &faceID
	}
	m.FromDomainBaseEntity(s.BaseEntity)
	return m
}

// ContractModel is the persistence model for the Contract aggregate root.
//
// idx_contract_cohort_sequence makes a sequence number permanent within its cohort and
// idx_contract_active_student allows a single ACTIVE contract per student.
type ContractModel struct {
	AggregateModel
	ContractNumber    string          `gorm:"type:varchar(64);not null;uniqueIndex"`
	StudentID         uuid.UUID       `gorm:"type:uuid;not null;index;uniqueIndex:idx_contract_active_student,where:status = 'active'"`
	GroupID           uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_contract_cohort_sequence,priority:1"`
	BirthYear         int             `gorm:"not null;uniqueIndex:idx_contract_cohort_sequence,priority:2"`
	ArchiveYear       int             `gorm:"not null;uniqueIndex:idx_contract_cohort_sequence,priority:3;index"`
	SequenceNumber    int             `gorm:"not null;uniqueIndex:idx_contract_cohort_sequence,priority:4"`
	MonthlyFee        decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	StartDate         time.Time       `gorm:"type:date;not null"`
	EndDate           time.Time       `gorm:"type:date;not null"`
	Status            string          `gorm:"type:varchar(20);not null;default:'active';index"`
	TerminatedAt      *time.Time
	TerminationReason string `gorm:"type:text"`
}

// TableName returns the table name for GORM
func (ContractModel) TableName() string {
	return "contracts"
}

// ToDomain converts the persistence model to a domain Contract aggregate.
func (m *ContractModel) ToDomain() *enrollment.Contract {
	return &enrollment.Contract{
		BaseAggregateRoot: m.ToDomainAggregateRoot(),
		ContractNumber:    m.ContractNumber,
		StudentID:         m.StudentID,
		GroupID:           m.GroupID,
		BirthYear:         m.BirthYear,
		SequenceNumber:    m.SequenceNumber,
		ArchiveYear:       m.ArchiveYear,
		MonthlyFee:        m.MonthlyFee,
		StartDate:         m.StartDate,
		EndDate:           m.EndDate,
		Status:            enrollment.ContractStatus(m.Status),
		TerminatedAt:      m.TerminatedAt,
		TerminationReason: m.TerminationReason,
	}
}

// FromDomain populates the persistence model from a domain Contract aggregate.
func (m *ContractModel) FromDomain(c *enrollment.Contract) {
	m.FromDomainAggregateRoot(c.BaseAggregateRoot)
	m.ContractNumber = c.ContractNumber
	m.StudentID = c.StudentID
	m.GroupID = c.GroupID
	m.BirthYear = c.BirthYear
	m.SequenceNumber = c.SequenceNumber
	m.ArchiveYear = c.ArchiveYear
	m.MonthlyFee = c.MonthlyFee
	m.StartDate = c.StartDate
	m.EndDate = c.EndDate
	m.Status = string(c.Status)
	m.TerminatedAt = c.TerminatedAt
	m.TerminationReason = c.TerminationReason
}

// ContractModelFromDomain creates a new persistence model from a domain Contract aggregate.
func ContractModelFromDomain(c *enrollment.Contract) *ContractModel {
	m := &ContractModel{}
	m.FromDomain(c)
	return m
}

// ContractsToDomain converts a slice of models, preserving order.
func ContractsToDomain(ms []ContractModel) []enrollment.Contract {
	out := make([]enrollment.Contract, len(ms))
	for i := range ms {
		out[i] = *ms[i].ToDomain()
	}
	return out
}
