package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "acsadmin/pkg/domain-errors"
)

type signInRequest struct {
	Identifier string `json:"identifier" validate:"required,identifier"`
	Password   string `json:"password" validate:"required,min=8"`
	FullName   string `json:"full_name" validate:"omitempty,notblank"`
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     signInRequest
		wantMsg string
	}{
		{"email identifier", signInRequest{Identifier: "ana@example.com", Password: "longenough"}, ""},
		{"code identifier", signInRequest{Identifier: "ACS-07", Password: "longenough"}, ""},
		{"missing identifier", signInRequest{Password: "longenough"}, "identifier is required"},
		{"bad identifier", signInRequest{Identifier: "ACS-7", Password: "longenough"}, "identifier must be an email or an ACS-NN code"},
		{"short password", signInRequest{Identifier: "ACS-07", Password: "short"}, "password must be at least 8"},
		{"blank name", signInRequest{Identifier: "ACS-07", Password: "longenough", FullName: "   "}, "full_name must not be blank"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.req)
			if tt.wantMsg == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
			assert.Equal(t, tt.wantMsg, err.Error())
		})
	}
}

func TestToSnakeCase(t *testing.T) {
	assert.Equal(t, "full_name", toSnakeCase("FullName"))
	assert.Equal(t, "account_id", toSnakeCase("AccountID"))
	assert.Equal(t, "identifier", toSnakeCase("Identifier"))
}
