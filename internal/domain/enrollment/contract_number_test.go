package enrollment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatContractNumber(t *testing.T) {
	assert.Equal(t, "NA12020", FormatContractNumber("A", 1, 2020))
	assert.Equal(t, "NA22020", FormatContractNumber("A", 2, 2020))
	assert.Equal(t, "NPRO-B152015", FormatContractNumber("PRO-B", 15, 2015))
}

func TestParseContractNumber(t *testing.T) {
	tests := []struct {
		name       string
		number     string
		identifier string
		want       ContractNumber
		wantErr    error
	}{
		{
			name:       "single digit sequence",
			number:     "NA12020",
			identifier: "A",
			want:       ContractNumber{Identifier: "A", Sequence: 1, BirthYear: 2020},
		},
		{
			name:       "multi digit sequence",
			number:     "NAB122019",
			identifier: "AB",
			want:       ContractNumber{Identifier: "AB", Sequence: 12, BirthYear: 2019},
		},
		{
			name:       "identifier containing inner digits",
			number:     "NU10-B32018",
			identifier: "U10-B",
			want:       ContractNumber{Identifier: "U10-B", Sequence: 3, BirthYear: 2018},
		},
		{name: "missing prefix", number: "A12020", identifier: "A", wantErr: ErrMalformedContractNumber},
		{name: "too short", number: "N2020", identifier: "A", wantErr: ErrMalformedContractNumber},
		{name: "non numeric year", number: "NA1202X", identifier: "A", wantErr: ErrMalformedContractNumber},
		{name: "other group", number: "NB12020", identifier: "A", wantErr: ErrIdentifierMismatch},
		{name: "missing sequence", number: "NA2020", identifier: "A", wantErr: ErrMalformedContractNumber},
		{name: "leading zero sequence", number: "NA012020", identifier: "A", wantErr: ErrMalformedContractNumber},
		{name: "letters in sequence", number: "NAX2020", identifier: "A", wantErr: ErrMalformedContractNumber},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseContractNumber(tt.number, tt.identifier)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.number, got.String())
		})
	}
}
