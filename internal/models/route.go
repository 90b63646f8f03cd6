package models

// Desk routes known to the access controller.
const (
	RouteSignIn           = "/login"
	RouteInwardDashboard  = "/inward-dashboard"
	RouteHeadDashboard    = "/head-dashboard"
	RouteOutwardDashboard = "/outward-dashboard"
	RouteLetters          = "/letters"
	RouteLetterDetail     = "/letters/detail"
	RouteReports          = "/reports"
	RouteAdmin            = "/admin"
)

// LandingRoute returns the canonical landing route of a role. Sign-in,
// role-mismatch and permission-denied redirects all resolve through here.
func LandingRoute(role RoleID) string {
	switch NormalizeRole(string(role)) {
	case RoleInwardUser:
		return RouteInwardDashboard
	case RoleHead:
		return RouteHeadDashboard
	default:
		return RouteOutwardDashboard
	}
}

// RouteRule declares the roles allowed to render a route. An empty set admits
// every authenticated role.
type RouteRule struct {
	Path          string
	RequiredRoles []RoleID
}

// Admits reports whether role may render the route.
func (r RouteRule) Admits(role RoleID) bool {
	if len(r.RequiredRoles) == 0 {
		return true
	}
	role = NormalizeRole(string(role))
	for _, allowed := range r.RequiredRoles {
		if allowed == role {
			return true
		}
	}
	return false
}

// DefaultRouteRules is the route table of the desk views.
func DefaultRouteRules() []RouteRule {
	outward := make([]RoleID, 0, len(CanonicalRoles))
	for _, role := range CanonicalRoles {
		if role != RoleInwardUser && role != RoleHead {
			outward = append(outward, role)
		}
	}
	return []RouteRule{
		{Path: RouteInwardDashboard, RequiredRoles: []RoleID{RoleInwardUser, RoleAdmin}},
		{Path: RouteHeadDashboard, RequiredRoles: []RoleID{RoleHead, RoleAdmin}},
		{Path: RouteOutwardDashboard, RequiredRoles: outward},
		{Path: RouteLetters},
		{Path: RouteLetterDetail},
		{Path: RouteReports},
		{Path: RouteAdmin, RequiredRoles: []RoleID{RoleAdmin}},
	}
}
