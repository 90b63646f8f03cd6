package dto

import "github.com/noah-isme/patra-api/internal/models"

// CreateLetterRequest registers an inward letter.
type CreateLetterRequest struct {
	ReferenceNumber string `json:"referenceNumber" validate:"required,max=64"`
	Subject         string `json:"subject" validate:"required,max=512"`
	Sender          string `json:"sender" validate:"required,max=256"`
}

// ForwardLetterRequest hands a letter to another desk.
type ForwardLetterRequest struct {
	ForwardTo models.RoleID `json:"forwardTo" validate:"required"`
}

// DecisionRequest settles a letter outside the signing branch.
type DecisionRequest struct {
	Status models.LetterStatus `json:"status" validate:"required"`
}

// CoveringLetterMetadata accompanies an uploaded covering letter.
type CoveringLetterMetadata struct {
	ReferenceNumber string `json:"referenceNumber" form:"reference_number"`
}

// LetterQuery mirrors supported listing filters.
type LetterQuery struct {
	Status        []models.LetterStatus
	HeldBy        []models.RoleID
	Search        string
	IncludeClosed bool
	Page          int
	PageSize      int
}

// Filter converts the query into a repository filter.
func (q LetterQuery) Filter() models.LetterFilter {
	page := q.Page
	if page < 1 {
		page = 1
	}
	size := q.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	statuses := make([]models.LetterStatus, 0, len(q.Status))
	for _, status := range q.Status {
		statuses = append(statuses, status.Normalize())
	}
	roles := make([]models.RoleID, 0, len(q.HeldBy))
	for _, role := range q.HeldBy {
		roles = append(roles, models.NormalizeRole(string(role)))
	}
	return models.LetterFilter{
		Status:        statuses,
		HeldBy:        roles,
		Search:        q.Search,
		IncludeClosed: q.IncludeClosed,
		Limit:         size,
		Offset:        (page - 1) * size,
	}
}

// LetterView is a letter with the actions the caller may take on it.
type LetterView struct {
	models.Letter
	Stage            models.Stage  `json:"stage"`
	Owner            models.RoleID `json:"owner"`
	PermittedActions []string      `json:"permittedActions"`
}
