package ledger

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/academy/backend/internal/domain/enrollment"
	"github.com/academy/backend/internal/domain/ledger"
	"github.com/academy/backend/internal/domain/shared"
	"github.com/academy/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DebtService answers "how much does this student owe" in the two ways the
// academy needs: the monthly ledger report and the real-time gate snapshot.
type DebtService struct {
	studentRepo     enrollment.StudentRepository
	contractRepo    enrollment.ContractRepository
	transactionRepo ledger.TransactionRepository
	location        *time.Location
	logger          *zap.Logger
}

// NewDebtService creates a new DebtService. Dates are interpreted in loc.
func NewDebtService(
	studentRepo enrollment.StudentRepository,
	contractRepo enrollment.ContractRepository,
	transactionRepo ledger.TransactionRepository,
	loc *time.Location,
	logger *zap.Logger,
) *DebtService {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DebtService{
		studentRepo:     studentRepo,
		contractRepo:    contractRepo,
		transactionRepo: transactionRepo,
		location:        loc,
		logger:          logger,
	}
}

// Now returns the current time in the configured timezone
func (s *DebtService) Now() time.Time {
	return time.Now().In(s.location)
}

// StudentReport runs the ledger-report computation over the given months
func (s *DebtService) StudentReport(ctx context.Context, studentID uuid.UUID, periods []valueobject.YearMonth) (*StudentDebtReport, error) {
	if _, err := s.studentRepo.FindByID(ctx, studentID); err != nil {
		return nil, err
	}
	contracts, err := s.contractRepo.FindByStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	payments, err := s.transactionRepo.FindSuccessfulByStudents(ctx, []uuid.UUID{studentID})
	if err != nil {
		return nil, err
	}

	return &StudentDebtReport{
		StudentID:  studentID,
		DebtReport: ledger.LedgerReportDebt(contracts, payments, periods),
	}, nil
}

// Snapshot computes the gate-snapshot debt of the student's ACTIVE contract.
// A student without an ACTIVE contract in force on asOf owes nothing.
func (s *DebtService) Snapshot(ctx context.Context, studentID uuid.UUID, asOf time.Time) (*DebtSnapshot, error) {
	snap := &DebtSnapshot{StudentID: studentID, AsOf: asOf, Debt: decimal.Zero}

	contract, err := s.contractRepo.FindActiveByStudent(ctx, studentID)
	if errors.Is(err, shared.ErrNotFound) {
		return snap, nil
	}
	if err != nil {
		return nil, err
	}

	asOf = asOf.In(s.location)
	if !contract.InForceOn(asOf) {
		return snap, nil
	}

	payments, err := s.transactionRepo.FindSuccessfulByContract(ctx, contract.ID)
	if err != nil {
		return nil, err
	}

	snap.ContractID = &contract.ID
	snap.ContractNumber = contract.ContractNumber
	snap.Debt = ledger.SnapshotDebt(contract, payments, asOf)
	return snap, nil
}

// Debtors lists ACTIVE students whose ledger-report debt over the months is
// positive, largest debt first. It returns the requested page and the total.
func (s *DebtService) Debtors(ctx context.Context, query DebtorsQuery) ([]DebtorItem, int64, error) {
	periods, err := query.Periods(s.Now())
	if err != nil {
		return nil, 0, err
	}

	groupID, err := shared.ParseOptionalID("group_id", query.GroupID)
	if err != nil {
		return nil, 0, err
	}
	students, err := s.studentRepo.FindActiveByGroup(ctx, groupID)
	if err != nil {
		return nil, 0, err
	}
	if len(students) == 0 {
		return []DebtorItem{}, 0, nil
	}

	ids := make([]uuid.UUID, 0, len(students))
	for _, st := range students {
		ids = append(ids, st.ID)
	}
	contracts, err := s.contractRepo.FindByStudents(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	payments, err := s.transactionRepo.FindSuccessfulByStudents(ctx, ids)
	if err != nil {
		return nil, 0, err
	}

	contractsByStudent := make(map[uuid.UUID][]enrollment.Contract)
	for _, c := range contracts {
		contractsByStudent[c.StudentID] = append(contractsByStudent[c.StudentID], c)
	}
	paymentsByStudent := make(map[uuid.UUID][]ledger.Transaction)
	for _, p := range payments {
		if p.StudentID != nil {
			paymentsByStudent[*p.StudentID] = append(paymentsByStudent[*p.StudentID], p)
		}
	}

	var minDebt decimal.Decimal
	if query.MinDebt != nil {
		minDebt = decimal.NewFromFloat(*query.MinDebt)
	}

	debtors := make([]DebtorItem, 0)
	for _, st := range students {
		own := contractsByStudent[st.ID]
		if len(own) == 0 {
			continue
		}
		report := ledger.LedgerReportDebt(own, paymentsByStudent[st.ID], periods)
		if !report.HasDebt() || report.Debt.LessThan(minDebt) {
			continue
		}
		debtors = append(debtors, DebtorItem{
			StudentID:      st.ID,
			StudentName:    st.FullName(),
			GroupID:        st.GroupID,
			ContractNumber: latestContractNumber(own),
			Expected:       report.TotalExpected,
			Paid:           report.TotalPaid,
			Debt:           report.Debt,
		})
	}

	sort.SliceStable(debtors, func(i, j int) bool {
		return debtors[i].Debt.GreaterThan(debtors[j].Debt)
	})

	total := int64(len(debtors))
	filter := shared.Filter{Page: query.Page, PageSize: query.PageSize}.Normalize()
	start := filter.Offset()
	if start >= len(debtors) {
		return []DebtorItem{}, total, nil
	}
	end := start + filter.PageSize
	if end > len(debtors) {
		end = len(debtors)
	}
	return debtors[start:end], total, nil
}

// latestContractNumber prefers the ACTIVE contract, then the most recent start
func latestContractNumber(contracts []enrollment.Contract) string {
	var best *enrollment.Contract
	for i := range contracts {
		c := &contracts[i]
		switch {
		case best == nil:
			best = c
		case c.IsActive() && !best.IsActive():
			best = c
		case c.IsActive() == best.IsActive() && c.StartDate.After(best.StartDate):
			best = c
		}
	}
	if best == nil {
		return ""
	}
	return best.ContractNumber
}
