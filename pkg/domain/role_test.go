package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "github.com/vishalp-65/patient-case-notes-system/pkg/domain-errors"
)

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" Doctor ")
	require.NoError(t, err)
	assert.Equal(t, RoleDoctor, r)
	assert.True(t, r.CanReview())

	r, err = ParseRole("admin")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, r)

	_, err = ParseRole("nurse")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	assert.False(t, Role("nurse").CanReview())
}
