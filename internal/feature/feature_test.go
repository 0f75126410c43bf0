package feature

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnabled(t *testing.T) {
	flags := FlagSet{
		"open":       {Enabled: true},
		"admin_only": {Enabled: true, Roles: []string{"admin"}},
		"dark":       {Enabled: false},
	}

	require.True(t, Enabled(flags, "open", "user"))
	require.True(t, Enabled(flags, "open", "admin"))
	require.False(t, Enabled(flags, "admin_only", "user"))
	require.True(t, Enabled(flags, "admin_only", "admin"))
	require.False(t, Enabled(flags, "dark", "admin"))
	require.False(t, Enabled(flags, "no-such-flag", "admin"))
}

func TestEnabledFor(t *testing.T) {
	flags := Defaults()

	user := EnabledFor(flags, "user")
	require.ElementsMatch(t, []string{"referral_program", "promo_codes"}, user)

	admin := EnabledFor(flags, "admin")
	require.ElementsMatch(t, []string{"referral_program", "promo_codes", "admin_dashboard"}, admin)
}
