package enrollment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/academy/backend/internal/domain/enrollment"
	"github.com/academy/backend/internal/domain/shared"
	"github.com/academy/backend/internal/domain/shared/valueobject"
	"github.com/academy/backend/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrCohortFull is returned when every sequence of a cohort has been used
var ErrCohortFull = shared.NewDomainError("COHORT_FULL", "No contract numbers left in this cohort")

// AllocationRecorder receives allocation outcomes for business metrics
type AllocationRecorder interface {
	RecordAllocation(ctx context.Context, outcome string)
}

// AllocatorService hands out permanent contract numbers and drives the contract lifecycle.
// A sequence counts as used as soon as any contract of the cohort carries it,
// whatever that contract's status, so numbers are never reissued.
type AllocatorService struct {
	groupRepo    enrollment.GroupRepository
	studentRepo  enrollment.StudentRepository
	contractRepo enrollment.ContractRepository
	locker       CohortLocker
	metrics      AllocationRecorder
	logger       *zap.Logger
}

// NewAllocatorService creates a new AllocatorService. A nil locker falls back
// to an in-process mutex.
func NewAllocatorService(
	groupRepo enrollment.GroupRepository,
	studentRepo enrollment.StudentRepository,
	contractRepo enrollment.ContractRepository,
	locker CohortLocker,
	logger *zap.Logger,
) *AllocatorService {
	if locker == nil {
		locker = NewMutexCohortLocker()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AllocatorService{
		groupRepo:    groupRepo,
		studentRepo:  studentRepo,
		contractRepo: contractRepo,
		locker:       locker,
		logger:       logger,
	}
}

// SetMetrics sets the allocation recorder (optional)
func (s *AllocatorService) SetMetrics(m AllocationRecorder) {
	s.metrics = m
}

// ListAvailable returns the ascending free sequences of the cohort
func (s *AllocatorService) ListAvailable(ctx context.Context, groupID uuid.UUID, birthYear, archiveYear int) ([]int, error) {
	group, err := s.groupRepo.FindByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return s.available(ctx, group, birthYear, archiveYear)
}

// NextAvailable returns the lowest free sequence, or ErrCohortFull
func (s *AllocatorService) NextAvailable(ctx context.Context, groupID uuid.UUID, birthYear, archiveYear int) (*AvailableNumber, error) {
	group, err := s.groupRepo.FindByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	free, err := s.available(ctx, group, birthYear, archiveYear)
	if err != nil {
		return nil, err
	}
	if len(free) == 0 {
		return nil, ErrCohortFull
	}
	return &AvailableNumber{
		Sequence:       free[0],
		ContractNumber: enrollment.FormatContractNumber(group.Identifier, free[0], birthYear),
	}, nil
}

// ValidateProposed checks an operator-supplied contract number against the cohort.
// Rejections come back in the result; the error is reserved for storage failures
// and an unknown group.
func (s *AllocatorService) ValidateProposed(ctx context.Context, number string, groupID uuid.UUID, birthYear, archiveYear int) (*ValidationResult, error) {
	group, err := s.groupRepo.FindByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return s.validate(ctx, number, group, birthYear, archiveYear)
}

func (s *AllocatorService) validate(ctx context.Context, number string, group *enrollment.Group, birthYear, archiveYear int) (*ValidationResult, error) {
	free, err := s.available(ctx, group, birthYear, archiveYear)
	if err != nil {
		return nil, err
	}
	var next *string
	if len(free) > 0 {
		n := enrollment.FormatContractNumber(group.Identifier, free[0], birthYear)
		next = &n
	}
	reject := func(reason ValidationReason, msg string) *ValidationResult {
		return &ValidationResult{Reason: reason, Message: msg, NextAvailable: next}
	}

	parsed, err := enrollment.ParseContractNumber(number, group.Identifier)
	switch {
	case errors.Is(err, enrollment.ErrIdentifierMismatch):
		return reject(ReasonIdentifierMismatch,
			fmt.Sprintf("Contract number %q does not belong to group %s", number, group.Identifier)), nil
	case err != nil:
		return reject(ReasonMalformed,
			fmt.Sprintf("Contract number %q does not match N{group}{sequence}{birth year}", number)), nil
	}
	if parsed.BirthYear != birthYear {
		return reject(ReasonIdentifierMismatch,
			fmt.Sprintf("Contract number %q is for birth year %d, not %d", number, parsed.BirthYear, birthYear)), nil
	}
	if parsed.Sequence < 1 || parsed.Sequence > group.Capacity {
		return reject(ReasonOutOfRange,
			fmt.Sprintf("Sequence %d is outside 1..%d", parsed.Sequence, group.Capacity)), nil
	}
	if len(free) == 0 {
		return reject(ReasonExhausted,
			fmt.Sprintf("Group %s has no free numbers for birth year %d", group.Identifier, birthYear)), nil
	}
	if !containsInt(free, parsed.Sequence) {
		return reject(ReasonAlreadyUsed,
			fmt.Sprintf("Contract number %s has already been issued", parsed)), nil
	}

	return &ValidationResult{
		Valid:    true,
		Sequence: parsed.Sequence,
		Message:  fmt.Sprintf("Contract number %s is available", parsed),
	}, nil
}

// IsGroupFull answers the capacity question two different ways on purpose.
// With a birth year it asks whether any number of that cohort is still unissued.
// Without one it compares the ACTIVE contracts of the academic year with capacity.
// An unknown group is reported as full.
func (s *AllocatorService) IsGroupFull(ctx context.Context, groupID uuid.UUID, archiveYear int, birthYear *int) (bool, error) {
	group, err := s.groupRepo.FindByID(ctx, groupID)
	if errors.Is(err, shared.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}

	if birthYear != nil {
		free, err := s.available(ctx, group, *birthYear, archiveYear)
		if err != nil {
			return false, err
		}
		return len(free) == 0, nil
	}

	active, err := s.contractRepo.CountActiveInGroup(ctx, group.ID, archiveYear)
	if err != nil {
		return false, err
	}
	return active >= int64(group.Capacity), nil
}

// AllocateContract issues a new ACTIVE contract. Allocation is serialized per
// cohort; the unique indexes reject anything that slips past the lock.
func (s *AllocatorService) AllocateContract(ctx context.Context, req AllocateContractRequest) (*ContractResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "contract", "allocate")
	defer span.End()
	telemetry.SetAttribute(span, telemetry.SpanAttrStudentID, req.StudentID)

	student, err := s.studentRepo.FindByID(ctx, req.StudentID)
	if err != nil {
		return nil, err
	}
	group, err := s.groupRepo.FindByID(ctx, req.GroupID)
	if err != nil {
		return nil, err
	}
	birthYear := req.BirthYear
	if birthYear == 0 {
		birthYear = student.BirthYear
	}

	if _, err := s.contractRepo.FindActiveByStudent(ctx, student.ID); err == nil {
		s.record(ctx, "active_exists")
		return nil, enrollment.ErrActiveContractExists
	} else if !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}

	cohort := enrollment.Cohort{GroupID: group.ID, BirthYear: birthYear, ArchiveYear: req.ArchiveYear}
	unlock, err := s.locker.Lock(ctx, cohort)
	if err != nil {
		return nil, fmt.Errorf("lock cohort %s: %w", CohortLockKey(cohort), err)
	}
	defer unlock()

	seq, err := s.pickSequence(ctx, group, birthYear, req.ArchiveYear, req.ProposedNumber)
	if err != nil {
		return nil, err
	}

	contract, err := enrollment.NewContract(enrollment.NewContractParams{
		StudentID:      student.ID,
		Group:          group,
		BirthYear:      birthYear,
		SequenceNumber: seq,
		ArchiveYear:    req.ArchiveYear,
		MonthlyFee:     req.MonthlyFee,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
	})
	if err != nil {
		return nil, err
	}

	telemetry.SetAttribute(span, telemetry.SpanAttrContractNumber, contract.ContractNumber)
	if err := s.contractRepo.Create(ctx, contract); err != nil {
		telemetry.RecordError(span, err)
		s.record(ctx, "conflict")
		s.logger.Warn("Contract insert rejected",
			zap.String("contract_number", contract.ContractNumber),
			zap.String("student_id", student.ID.String()),
			zap.Error(err))
		return nil, err
	}

	s.record(ctx, "allocated")
	s.logger.Info("Contract allocated",
		zap.String("contract_number", contract.ContractNumber),
		zap.String("student_id", student.ID.String()),
		zap.String("group", group.Identifier),
		zap.Int("birth_year", birthYear),
		zap.Int("archive_year", req.ArchiveYear))

	resp := ToContractResponse(contract)
	return &resp, nil
}

func (s *AllocatorService) pickSequence(ctx context.Context, group *enrollment.Group, birthYear, archiveYear int, proposed string) (int, error) {
	if proposed == "" {
		free, err := s.available(ctx, group, birthYear, archiveYear)
		if err != nil {
			return 0, err
		}
		if len(free) == 0 {
			s.record(ctx, "full")
			return 0, ErrCohortFull
		}
		return free[0], nil
	}

	result, err := s.validate(ctx, proposed, group, birthYear, archiveYear)
	if err != nil {
		return 0, err
	}
	if !result.Valid {
		s.record(ctx, "rejected")
		return 0, shared.NewDomainError("INVALID_CONTRACT_NUMBER", result.Message)
	}
	return result.Sequence, nil
}

// GetContract returns a contract by ID
func (s *AllocatorService) GetContract(ctx context.Context, id uuid.UUID) (*ContractResponse, error) {
	c, err := s.contractRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := ToContractResponse(c)
	return &resp, nil
}

// TerminateContract ends a contract early. Its number stays retired.
func (s *AllocatorService) TerminateContract(ctx context.Context, id uuid.UUID, req TerminateContractRequest) (*ContractResponse, error) {
	at := time.Now()
	if req.TerminatedAt != nil {
		at = *req.TerminatedAt
	}
	return s.changeStatus(ctx, id, func(c *enrollment.Contract) error {
		return c.Terminate(req.Reason, at)
	})
}

// ArchiveContract moves a single contract to ARCHIVED
func (s *AllocatorService) ArchiveContract(ctx context.Context, id uuid.UUID) (*ContractResponse, error) {
	return s.changeStatus(ctx, id, (*enrollment.Contract).Archive)
}

// DeleteContract soft-deletes a contract; the row and its number are kept
func (s *AllocatorService) DeleteContract(ctx context.Context, id uuid.UUID) (*ContractResponse, error) {
	return s.changeStatus(ctx, id, (*enrollment.Contract).Delete)
}

// ExpireContract marks a contract whose period is over
func (s *AllocatorService) ExpireContract(ctx context.Context, id uuid.UUID) (*ContractResponse, error) {
	return s.changeStatus(ctx, id, (*enrollment.Contract).Expire)
}

func (s *AllocatorService) changeStatus(ctx context.Context, id uuid.UUID, apply func(*enrollment.Contract) error) (*ContractResponse, error) {
	c, err := s.contractRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	from := c.Status
	if err := apply(c); err != nil {
		return nil, err
	}
	if err := s.contractRepo.SaveWithLock(ctx, c); err != nil {
		return nil, err
	}

	s.logger.Info("Contract status changed",
		zap.String("contract_number", c.ContractNumber),
		zap.String("from", from.String()),
		zap.String("to", c.Status.String()))

	resp := ToContractResponse(c)
	return &resp, nil
}

// ArchiveYear closes an academic year: its contracts and groups move to ARCHIVED
func (s *AllocatorService) ArchiveYear(ctx context.Context, year int) (*ArchiveYearResult, error) {
	if year < 1 {
		return nil, shared.NewDomainError("INVALID_ARCHIVE_YEAR", "Archive year is required")
	}
	contracts, err := s.contractRepo.ArchiveYear(ctx, year)
	if err != nil {
		return nil, fmt.Errorf("archive contracts of %d: %w", year, err)
	}
	groups, err := s.groupRepo.ArchiveYear(ctx, year)
	if err != nil {
		return nil, fmt.Errorf("archive groups of %d: %w", year, err)
	}

	s.logger.Info("Academic year archived",
		zap.Int("year", year),
		zap.Int64("contracts", contracts),
		zap.Int64("groups", groups))

	return &ArchiveYearResult{Year: year, Contracts: contracts, Groups: groups}, nil
}

// PaymentMonths lists the months a contract may be paid for: from its start month
// through the earlier of its end and termination months
func (s *AllocatorService) PaymentMonths(ctx context.Context, contractNumber string) (*PaymentMonthsResponse, error) {
	c, err := s.contractRepo.FindByNumber(ctx, contractNumber)
	if err != nil {
		return nil, err
	}
	end := c.EndDate
	if c.TerminatedAt != nil && c.TerminatedAt.Before(end) {
		end = *c.TerminatedAt
	}
	months, err := valueobject.PeriodsFromRange(c.StartDate, end)
	if err != nil {
		months = []valueobject.YearMonth{}
	}
	return &PaymentMonthsResponse{
		ContractID:       c.ID,
		ContractNumber:   c.ContractNumber,
		EffectiveEndDate: end,
		Months:           months,
	}, nil
}

// available is [1..capacity] minus every sequence the cohort has ever used
func (s *AllocatorService) available(ctx context.Context, group *enrollment.Group, birthYear, archiveYear int) ([]int, error) {
	used, err := s.contractRepo.UsedSequences(ctx, enrollment.Cohort{
		GroupID:     group.ID,
		BirthYear:   birthYear,
		ArchiveYear: archiveYear,
	})
	if err != nil {
		return nil, err
	}
	taken := make(map[int]struct{}, len(used))
	for _, seq := range used {
		taken[seq] = struct{}{}
	}

	free := make([]int, 0, group.Capacity)
	for seq := 1; seq <= group.Capacity; seq++ {
		if _, ok := taken[seq]; !ok {
			free = append(free, seq)
		}
	}
	return free, nil
}

func (s *AllocatorService) record(ctx context.Context, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordAllocation(ctx, outcome)
	}
}

func containsInt(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
