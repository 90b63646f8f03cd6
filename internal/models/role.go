package models

import "strings"

// RoleID is the canonical identifier of an organizational desk.
type RoleID string

const (
	RoleInwardUser           RoleID = "inward_user"
	RoleOutwardUser          RoleID = "outward_user"
	RoleHead                 RoleID = "head"
	RoleSP                   RoleID = "sp"
	RoleAdmin                RoleID = "admin"
	RoleOutsidePoliceStation RoleID = "outside_police_station"
	RoleDM                   RoleID = "dm"
	RoleDGOther              RoleID = "dg_other"
	RoleHome                 RoleID = "home"
	RoleIGNashikOther        RoleID = "ig_nashik_other"
	RoleShanikLocal          RoleID = "shanik_local"

	// RoleUser is the fallback for an absent role. It is not canonical.
	RoleUser RoleID = "user"
)

// CanonicalRoles lists every canonical role in display order.
var CanonicalRoles = []RoleID{
	RoleInwardUser,
	RoleOutwardUser,
	RoleHead,
	RoleSP,
	RoleAdmin,
	RoleOutsidePoliceStation,
	RoleDM,
	RoleDGOther,
	RoleHome,
	RoleIGNashikOther,
	RoleShanikLocal,
}

var roleSynonyms = map[string]RoleID{
	"inward_user":              RoleInwardUser,
	"inward":                   RoleInwardUser,
	"inwarduser":               RoleInwardUser,
	"inward_clerk":             RoleInwardUser,
	"intake":                   RoleInwardUser,
	"outward_user":             RoleOutwardUser,
	"outward":                  RoleOutwardUser,
	"outwarduser":              RoleOutwardUser,
	"head":                     RoleHead,
	"hod":                      RoleHead,
	"head_of_department":       RoleHead,
	"department_head":          RoleHead,
	"pramukh":                  RoleHead,
	"sp":                       RoleSP,
	"s_p":                      RoleSP,
	"superintendent":           RoleSP,
	"superintendent_of_police": RoleSP,
	"admin":                    RoleAdmin,
	"administrator":            RoleAdmin,
	"superadmin":               RoleAdmin,
	"outside_police_station":   RoleOutsidePoliceStation,
	"police_station":           RoleOutsidePoliceStation,
	"outside_station":          RoleOutsidePoliceStation,
	"dm":                       RoleDM,
	"district_magistrate":      RoleDM,
	"collector":                RoleDM,
	"dg_other":                 RoleDGOther,
	"dg":                       RoleDGOther,
	"director_general":         RoleDGOther,
	"home":                     RoleHome,
	"home_department":          RoleHome,
	"ig_nashik_other":          RoleIGNashikOther,
	"ig_nashik":                RoleIGNashikOther,
	"ig":                       RoleIGNashikOther,
	"shanik_local":             RoleShanikLocal,
	"sthanik_local":            RoleShanikLocal,
	"shanik":                   RoleShanikLocal,
	"local":                    RoleShanikLocal,
}

// NormalizeRole maps a raw or legacy role string to its canonical RoleID. It
// never fails: unknown input comes back trimmed and lowercased, empty input
// becomes RoleUser.
func NormalizeRole(raw string) RoleID {
	lowered := strings.ToLower(strings.TrimSpace(raw))
	if lowered == "" {
		return RoleUser
	}
	if role, ok := roleSynonyms[roleKey(lowered)]; ok {
		return role
	}
	return RoleID(lowered)
}

func roleKey(lowered string) string {
	key := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.', '/':
			return '_'
		}
		return r
	}, lowered)
	return strings.Trim(key, "_")
}

// IsCanonical reports whether the role is one of CanonicalRoles.
func (r RoleID) IsCanonical() bool {
	for _, role := range CanonicalRoles {
		if r == role {
			return true
		}
	}
	return false
}

// String implements fmt.Stringer.
func (r RoleID) String() string {
	return string(r)
}

// RolePtr returns a pointer to a copy of role.
func RolePtr(role RoleID) *RoleID {
	return &role
}
