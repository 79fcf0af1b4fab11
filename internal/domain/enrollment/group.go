package enrollment

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/academy/backend/internal/domain/shared"
)

// GroupStatus represents the lifecycle of a training group
type GroupStatus string

const (
	GroupStatusActive   GroupStatus = "active"
	GroupStatusArchived GroupStatus = "archived"
)

// IsValid checks if the status is a valid GroupStatus
func (s GroupStatus) IsValid() bool {
	return s == GroupStatusActive || s == GroupStatusArchived
}

// Group is a training group. Its capacity bounds the contract sequence numbers
// of every (birth year, archive year) cohort inside it.
type Group struct {
	shared.BaseEntity
	Identifier  string
	Name        string
	BirthYear   int
	Capacity    int
	ArchiveYear int
	Status      GroupStatus
}

// NewGroup creates a new active group
func NewGroup(identifier, name string, birthYear, capacity, archiveYear int) (*Group, error) {
	identifier = strings.TrimSpace(identifier)
	if err := ValidateGroupIdentifier(identifier); err != nil {
		return nil, err
	}
	if capacity < 1 {
		return nil, shared.NewDomainError("INVALID_CAPACITY", "Group capacity must be positive")
	}
	if archiveYear < 1 {
		return nil, shared.NewDomainError("INVALID_ARCHIVE_YEAR", "Archive year is required")
	}

	return &Group{
		BaseEntity:  shared.NewBaseEntity(),
		Identifier:  identifier,
		Name:        name,
		BirthYear:   birthYear,
		Capacity:    capacity,
		ArchiveYear: archiveYear,
		Status:      GroupStatusActive,
	}, nil
}

// ValidateGroupIdentifier checks the identifier can be embedded in a contract number.
// A trailing digit would merge with the sequence segment and make numbers ambiguous.
func ValidateGroupIdentifier(identifier string) error {
	if identifier == "" {
		return shared.NewDomainError("INVALID_IDENTIFIER", "Group identifier cannot be empty")
	}
	runes := []rune(identifier)
	for _, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' {
			return shared.NewDomainError("INVALID_IDENTIFIER",
				fmt.Sprintf("Group identifier %q may only contain letters, digits and '-'", identifier))
		}
	}
	if unicode.IsDigit(runes[len(runes)-1]) {
		return shared.NewDomainError("INVALID_IDENTIFIER",
			fmt.Sprintf("Group identifier %q must not end with a digit", identifier))
	}
	return nil
}

// Archive moves the group out of the current academic year
func (g *Group) Archive() error {
	if g.Status == GroupStatusArchived {
		return shared.NewDomainError("INVALID_STATE", "Group is already archived")
	}
	g.Status = GroupStatusArchived
	return nil
}
