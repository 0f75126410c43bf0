// Package feature evaluates static feature flags against a caller's role.
// Evaluation is a pure function of its inputs so visibility rules can be
// tested without any surrounding state.
package feature

// Flag combines a static on/off bit with an optional role allow-list. An
// empty list means the flag applies to every role.
type Flag struct {
	Enabled bool
	Roles   []string
}

type FlagSet map[string]Flag

// Defaults is the shipped flag configuration.
func Defaults() FlagSet {
	return FlagSet{
		"referral_program": {Enabled: true},
		"promo_codes":      {Enabled: true},
		"admin_dashboard":  {Enabled: true, Roles: []string{"admin"}},
	}
}

// Enabled reports whether a flag is on for the given role. Unknown flags are
// off.
func Enabled(flags FlagSet, name, role string) bool {
	flag, ok := flags[name]
	if !ok || !flag.Enabled {
		return false
	}
	if len(flag.Roles) == 0 {
		return true
	}
	for _, allowed := range flag.Roles {
		if allowed == role {
			return true
		}
	}
	return false
}

// EnabledFor lists the flags visible to a role, for handing to the client.
func EnabledFor(flags FlagSet, role string) []string {
	var names []string
	for name := range flags {
		if Enabled(flags, name, role) {
			names = append(names, name)
		}
	}
	return names
}
