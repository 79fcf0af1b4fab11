package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/academy/backend/internal/domain/enrollment"
	"github.com/academy/backend/internal/infrastructure/persistence/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// Date returns midnight UTC of the given day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// SeedGroup inserts a group and returns it.
func SeedGroup(t *testing.T, db *gorm.DB, identifier string, birthYear, capacity, archiveYear int) *enrollment.Group {
	t.Helper()
	g, err := enrollment.NewGroup(identifier, "Group "+identifier, birthYear, capacity, archiveYear)
	require.NoError(t, err)
	require.NoError(t, db.WithContext(context.Background()).Create(models.GroupModelFromDomain(g)).Error)
	return g
}

// SeedStudent inserts a student of the group and returns it.
func SeedStudent(t *testing.T, db *gorm.DB, group *enrollment.Group, firstName, faceID string) *enrollment.Student {
	t.Helper()
	s, err := enrollment.NewStudent(firstName, "Test", group.BirthYear)
	require.NoError(t, err)
	s.FaceID = faceID
	s.GroupID = &group.ID
	require.NoError(t, db.WithContext(context.Background()).Create(models.StudentModelFromDomain(s)).Error)
	return s
}

// SeedContract inserts an ACTIVE contract for the student with the given sequence.
func SeedContract(t *testing.T, db *gorm.DB, student *enrollment.Student, group *enrollment.Group, seq int, fee string, start, end time.Time) *enrollment.Contract {
	t.Helper()
	c, err := enrollment.NewContract(enrollment.NewContractParams{
		StudentID:      student.ID,
		Group:          group,
		BirthYear:      group.BirthYear,
		SequenceNumber: seq,
		ArchiveYear:    group.ArchiveYear,
		MonthlyFee:     decimal.RequireFromString(fee),
		StartDate:      start,
		EndDate:        end,
	})
	require.NoError(t, err)
	require.NoError(t, db.WithContext(context.Background()).Create(models.ContractModelFromDomain(c)).Error)
	return c
}
