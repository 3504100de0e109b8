package rbac

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Effect is the outcome of one rule in the permission decision.
type Effect string

// Effects. Inherit means the rule has no opinion and evaluation continues.
const (
	EffectGrant   Effect = "grant"
	EffectDeny    Effect = "deny"
	EffectInherit Effect = "inherit"
)

// Valid reports whether e may be stored on a direct grant.
func (e Effect) Valid() bool {
	return e == EffectGrant || e == EffectDeny
}

var (
	// ErrInvalidPermissionCode indicates a code not shaped RESOURCE_ACTION.
	ErrInvalidPermissionCode = errors.New("rbac: invalid permission code")
	// ErrInvalidEffect indicates a direct grant effect other than grant or deny.
	ErrInvalidEffect = errors.New("rbac: invalid effect")
	// ErrInvalidRoleCode indicates an empty role code.
	ErrInvalidRoleCode = errors.New("rbac: invalid role code")
	// ErrMissingScope indicates a mutation without principal or tenant.
	ErrMissingScope = errors.New("rbac: principal and tenant required")
)

var permissionCodePattern = regexp.MustCompile(`^[A-Z][A-Z0-9]*(_[A-Z0-9]+)+$`)

// NormalizeCode upper-cases and validates a permission code.
func NormalizeCode(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if !permissionCodePattern.MatchString(code) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPermissionCode, raw)
	}
	return code, nil
}

// MustCode is NormalizeCode for constants; it panics on invalid input.
func MustCode(raw string) string {
	code, err := NormalizeCode(raw)
	if err != nil {
		panic(err)
	}
	return code
}

func normalizeRole(raw string) (string, error) {
	code := strings.ToLower(strings.TrimSpace(raw))
	if code == "" {
		return "", ErrInvalidRoleCode
	}
	return code, nil
}

// Role is a named bundle of permissions.
type Role struct {
	Code      string
	Name      string
	IsSystem  bool
	CreatedAt time.Time
}

// Permission is an atomic capability such as INVOICE_APPROVE.
type Permission struct {
	Code        string
	Module      string
	Description string
}

// Assignment gives a principal a role inside one tenant.
type Assignment struct {
	PrincipalID string
	RoleCode    string
	TenantID    string
}

// Override adjusts a role's default permission set for one tenant. Enabled
// false removes the permission from the role in that tenant.
type Override struct {
	TenantID       string
	RoleCode       string
	PermissionCode string
	Enabled        bool
}

// DirectGrant grants or denies one permission to one principal in one
// tenant, ahead of any role.
type DirectGrant struct {
	PrincipalID    string
	TenantID       string
	PermissionCode string
	Effect         Effect
}

// Snapshot is everything needed to decide a principal's permissions in one
// tenant.
type Snapshot struct {
	// RolePermissions maps each assigned role to its default permission codes.
	RolePermissions map[string][]string
	// Disabled holds role:permission pairs switched off by tenant overrides.
	Disabled map[string]struct{}
	// Direct holds the principal's direct grants keyed by permission code.
	Direct map[string]Effect
}

func overrideKey(role, code string) string {
	return role + ":" + code
}

// directRule applies direct grants and denies.
func (s Snapshot) directRule(code string) Effect {
	if effect, ok := s.Direct[code]; ok && effect.Valid() {
		return effect
	}
	return EffectInherit
}

// roleRule grants when any assigned role carries code and the tenant has not
// disabled it for that role.
func (s Snapshot) roleRule(code string) Effect {
	for role, codes := range s.RolePermissions {
		if _, off := s.Disabled[overrideKey(role, code)]; off {
			continue
		}
		for _, c := range codes {
			if c == code {
				return EffectGrant
			}
		}
	}
	return EffectInherit
}

// Decide evaluates the ordered rules; the first non-inherit effect wins and
// the default is deny.
func (s Snapshot) Decide(code string) Effect {
	for _, rule := range []func(string) Effect{s.directRule, s.roleRule} {
		if effect := rule(code); effect != EffectInherit {
			return effect
		}
	}
	return EffectDeny
}

// Effective returns every code the snapshot grants, sorted.
func (s Snapshot) Effective() []string {
	candidates := make(map[string]struct{})
	for _, codes := range s.RolePermissions {
		for _, c := range codes {
			candidates[c] = struct{}{}
		}
	}
	for c := range s.Direct {
		candidates[c] = struct{}{}
	}
	granted := make([]string, 0, len(candidates))
	for c := range candidates {
		if s.Decide(c) == EffectGrant {
			granted = append(granted, c)
		}
	}
	sort.Strings(granted)
	return granted
}
