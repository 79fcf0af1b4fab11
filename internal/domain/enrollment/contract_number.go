package enrollment

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	contractNumberPrefix = "N"
	birthYearDigits      = 4
)

// Contract number parse failures
var (
	ErrMalformedContractNumber = errors.New("contract number: malformed")
	ErrIdentifierMismatch      = errors.New("contract number: group identifier mismatch")
)

// ContractNumber is the decoded form of N{identifier}{sequence}{birth_year}
type ContractNumber struct {
	Identifier string
	Sequence   int
	BirthYear  int
}

// String renders the number back to its canonical text form
func (n ContractNumber) String() string {
	return FormatContractNumber(n.Identifier, n.Sequence, n.BirthYear)
}

// FormatContractNumber renders N{identifier}{sequence}{birth_year}
func FormatContractNumber(identifier string, sequence, birthYear int) string {
	return fmt.Sprintf("%s%s%d%04d", contractNumberPrefix, identifier, sequence, birthYear)
}

// ParseContractNumber decodes a number issued for the group with the given identifier.
// Parsing is anchored on the identifier rather than guessing where letters stop,
// since sequence and birth year are both bare digits.
func ParseContractNumber(number, identifier string) (ContractNumber, error) {
	number = strings.TrimSpace(number)
	if !strings.HasPrefix(number, contractNumberPrefix) {
		return ContractNumber{}, fmt.Errorf("%w: %q must start with %q", ErrMalformedContractNumber, number, contractNumberPrefix)
	}
	body := strings.TrimPrefix(number, contractNumberPrefix)
	if len(body) <= birthYearDigits {
		return ContractNumber{}, fmt.Errorf("%w: %q is too short", ErrMalformedContractNumber, number)
	}

	yearPart := body[len(body)-birthYearDigits:]
	if !isDigits(yearPart) {
		return ContractNumber{}, fmt.Errorf("%w: %q has no birth year suffix", ErrMalformedContractNumber, number)
	}
	head := body[:len(body)-birthYearDigits]

	if !strings.HasPrefix(head, identifier) {
		return ContractNumber{}, fmt.Errorf("%w: %q does not belong to group %q", ErrIdentifierMismatch, number, identifier)
	}
	seqPart := strings.TrimPrefix(head, identifier)
	if seqPart == "" || !isDigits(seqPart) || seqPart[0] == '0' {
		return ContractNumber{}, fmt.Errorf("%w: %q has no sequence number", ErrMalformedContractNumber, number)
	}

	seq, err := strconv.Atoi(seqPart)
	if err != nil {
		return ContractNumber{}, fmt.Errorf("%w: %v", ErrMalformedContractNumber, err)
	}
	year, _ := strconv.Atoi(yearPart)

	return ContractNumber{Identifier: identifier, Sequence: seq, BirthYear: year}, nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
