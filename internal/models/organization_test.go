package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateSubdomain(t *testing.T) {
	t.Run("accepts valid subdomains", func(t *testing.T) {
		for _, s := range []string{"acme", "acme-2", "a1b", "big-corp-au"} {
			require.NoError(t, ValidateSubdomain(s), s)
		}
	})

	t.Run("rejects short candidates", func(t *testing.T) {
		require.ErrorIs(t, ValidateSubdomain("ab"), ErrSubdomainTooShort)
		require.ErrorIs(t, ValidateSubdomain(""), ErrSubdomainTooShort)
	})

	t.Run("rejects disallowed characters", func(t *testing.T) {
		for _, s := range []string{"Acme", "acme_co", "acme.co", "acme co", "café"} {
			require.ErrorIs(t, ValidateSubdomain(s), ErrSubdomainInvalid, s)
		}
	})
}

func TestOrganizationPatchApply(t *testing.T) {
	name := "Acme Pty Ltd"
	org := &Organization{Name: "Acme", Settings: map[string]string{"plan": "trial"}}

	patch := &OrganizationPatch{Name: &name, Settings: map[string]string{"plan": "paid", "region": "au"}}
	patch.Apply(org)

	require.Equal(t, "Acme Pty Ltd", org.Name)
	require.Equal(t, "paid", org.Settings["plan"])
	require.Equal(t, "au", org.Settings["region"])

	// nil fields leave state untouched
	(&OrganizationPatch{}).Apply(org)
	require.Equal(t, "Acme Pty Ltd", org.Name)
}
