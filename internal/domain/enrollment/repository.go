package enrollment

import (
	"context"

	"github.com/academy/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// ErrContractNumberTaken is returned when storage rejects a contract whose number
// or cohort sequence is already used
var ErrContractNumberTaken = shared.NewDomainError("CONTRACT_NUMBER_TAKEN", "Contract number has already been allocated")

// ErrActiveContractExists is returned when a student already holds an ACTIVE contract
var ErrActiveContractExists = shared.NewDomainError("ACTIVE_CONTRACT_EXISTS", "Student already has an active contract")

// Cohort scopes contract-number uniqueness
type Cohort struct {
	GroupID     uuid.UUID
	BirthYear   int
	ArchiveYear int
}

// GroupRepository defines persistence for groups
type GroupRepository interface {
	// FindByID returns shared.ErrNotFound when absent
	FindByID(ctx context.Context, id uuid.UUID) (*Group, error)
	FindByIdentifier(ctx context.Context, identifier string, archiveYear int) (*Group, error)
	Create(ctx context.Context, group *Group) error
	// ArchiveYear moves every group of the academic year to ARCHIVED and returns the count
	ArchiveYear(ctx context.Context, year int) (int64, error)
}

// StudentRepository defines read access to students plus creation for seeding
type StudentRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Student, error)
	FindByFaceID(ctx context.Context, faceID string) (*Student, error)
	FindActiveByGroup(ctx context.Context, groupID *uuid.UUID) ([]Student, error)
	Create(ctx context.Context, student *Student) error
}

// ContractRepository defines persistence for contracts
type ContractRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Contract, error)
	FindByNumber(ctx context.Context, number string) (*Contract, error)

	// FindActiveByStudent returns the student's single ACTIVE contract or shared.ErrNotFound
	FindActiveByStudent(ctx context.Context, studentID uuid.UUID) (*Contract, error)

	// FindByStudent returns every contract of the student regardless of status
	FindByStudent(ctx context.Context, studentID uuid.UUID) ([]Contract, error)

	// FindByStudents batches FindByStudent for reports
	FindByStudents(ctx context.Context, studentIDs []uuid.UUID) ([]Contract, error)

	// UsedSequences returns every sequence number ever assigned in the cohort, any status
	UsedSequences(ctx context.Context, cohort Cohort) ([]int, error)

	// CountActiveInGroup counts ACTIVE contracts of the group in the academic year
	CountActiveInGroup(ctx context.Context, groupID uuid.UUID, archiveYear int) (int64, error)

	// Create inserts a new contract. Returns ErrContractNumberTaken or
	// ErrActiveContractExists when a uniqueness constraint rejects it.
	Create(ctx context.Context, contract *Contract) error

	// SaveWithLock persists status changes with optimistic version checking
	SaveWithLock(ctx context.Context, contract *Contract) error

	// ArchiveYear moves every non-deleted contract of the academic year to ARCHIVED
	ArchiveYear(ctx context.Context, year int) (int64, error)
}
