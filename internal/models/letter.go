package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// LetterStatus is the status string carried by a letter. Stores may emit
// free-form or localized values; guards only ever look at Normalize().
type LetterStatus string

const (
	StatusPending    LetterStatus = "pending"
	StatusApproved   LetterStatus = "approved"
	StatusRejected   LetterStatus = "rejected"
	StatusSentToHead LetterStatus = "sent_to_head"
	StatusCaseClosed LetterStatus = "case_closed"
)

// statusKeywords are checked in order; the first family with a matching
// keyword wins. Latin keywords must start a word, and for whole families
// they must also end one, so "enclosed" is not a closure.
var statusKeywords = []struct {
	status   LetterStatus
	whole    bool
	keywords []string
}{
	{StatusCaseClosed, true, []string{"case_closed", "case closed", "closed", "close", "बंद", "निकाली"}},
	{StatusSentToHead, false, []string{"to_head", "to head", "प्रमुखांकडे"}},
	{StatusRejected, false, []string{"reject", "denied", "नाकार", "अमान्य"}},
	{StatusApproved, false, []string{"approv", "processed", "completed", "मंजूर", "मान्य"}},
	{StatusPending, false, []string{"pending", "forward", "प्रलंबित"}},
}

// NormalizeStatus maps any status string onto the canonical set using keyword
// matching. Unknown or empty input is pending.
func NormalizeStatus(raw string) LetterStatus {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		return StatusPending
	}
	for _, family := range statusKeywords {
		for _, keyword := range family.keywords {
			if matchKeyword(value, keyword, family.whole) {
				return family.status
			}
		}
	}
	return StatusPending
}

func matchKeyword(value, keyword string, whole bool) bool {
	if !isLatinWord(keyword) {
		return strings.Contains(value, keyword)
	}
	for offset := 0; offset < len(value); {
		idx := strings.Index(value[offset:], keyword)
		if idx < 0 {
			return false
		}
		start := offset + idx
		end := start + len(keyword)
		if (start == 0 || !isWordByte(value[start-1])) && (!whole || end == len(value) || !isWordByte(value[end])) {
			return true
		}
		offset = start + 1
	}
	return false
}

func isLatinWord(keyword string) bool {
	for i := 0; i < len(keyword); i++ {
		if keyword[i] >= 0x80 {
			return false
		}
	}
	return true
}

func isWordByte(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}

// Normalize returns the canonical form of the status.
func (s LetterStatus) Normalize() LetterStatus {
	return NormalizeStatus(string(s))
}

// Stage is the lifecycle position derived from status and attachments.
type Stage string

const (
	StageCreated    Stage = "created"
	StageForwarded  Stage = "forwarded"
	StageSentToHead Stage = "sent_to_head"
	StageSigned     Stage = "signed"
	StageReported   Stage = "reported"
	StageCaseClosed Stage = "case_closed"
	StageApproved   Stage = "approved"
	StageRejected   Stage = "rejected"
)

// Attachment describes a stored file: the original submission or a report.
type Attachment struct {
	OriginalName string    `json:"originalName"`
	Size         int64     `json:"size"`
	MimeType     string    `json:"mimeType"`
	StorageURL   string    `json:"storageUrl"`
	StorageKey   string    `json:"storageKey,omitempty"`
	UploadedAt   time.Time `json:"uploadedAt"`
}

// CoveringLetter is the cover document that the head signs.
type CoveringLetter struct {
	ID              string     `json:"id"`
	ReferenceNumber string     `json:"referenceNumber"`
	DocumentURLs    []string   `json:"documentUrls"`
	StorageKeys     []string   `json:"storageKeys,omitempty"`
	IsSigned        bool       `json:"isSigned"`
	SignedAt        *time.Time `json:"signedAt,omitempty"`
	UploadedAt      time.Time  `json:"uploadedAt"`
}

// Value implements driver.Valuer storing the covering letter as JSON.
func (c CoveringLetter) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Scan implements sql.Scanner.
func (c *CoveringLetter) Scan(src interface{}) error {
	return scanJSON(src, c)
}

// Value implements driver.Valuer storing the attachment as JSON.
func (a Attachment) Value() (driver.Value, error) {
	return json.Marshal(a)
}

// Scan implements sql.Scanner.
func (a *Attachment) Scan(src interface{}) error {
	return scanJSON(src, a)
}

// ReportFiles is the insertion-ordered list of report attachments.
type ReportFiles []Attachment

// Value implements driver.Valuer.
func (r ReportFiles) Value() (driver.Value, error) {
	if r == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Attachment(r))
}

// Scan implements sql.Scanner.
func (r *ReportFiles) Scan(src interface{}) error {
	if src == nil {
		*r = nil
		return nil
	}
	return scanJSON(src, (*[]Attachment)(r))
}

func scanJSON(src interface{}, dest interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported json column type %T", src)
	}
}

// Letter is the unit of routed correspondence (a patra).
type Letter struct {
	ID               string          `db:"id" json:"id"`
	ReferenceNumber  string          `db:"reference_number" json:"referenceNumber"`
	Subject          string          `db:"subject" json:"subject"`
	Sender           string          `db:"sender" json:"sender"`
	LetterStatus     LetterStatus    `db:"letter_status" json:"letterStatus"`
	ForwardTo        *RoleID         `db:"forward_to" json:"forwardTo"`
	SentToHeadBy     *RoleID         `db:"sent_to_head_by" json:"sentToHeadBy,omitempty"`
	CoveringLetter   *CoveringLetter `db:"covering_letter" json:"coveringLetter"`
	UploadedFile     *Attachment     `db:"uploaded_file" json:"uploadedFile"`
	ReportFiles      ReportFiles     `db:"report_files" json:"reportFiles"`
	InwardPatraClose bool            `db:"inward_patra_close" json:"inwardPatraClose"`
	Version          int             `db:"version" json:"version"`
	CreatedAt        time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updatedAt"`
}

// Status returns the canonical status.
func (l *Letter) Status() LetterStatus {
	return l.LetterStatus.Normalize()
}

// IsClosed reports whether the case has been closed.
func (l *Letter) IsClosed() bool {
	return l.InwardPatraClose || l.Status() == StatusCaseClosed
}

// IsSigned reports whether the covering letter carries a signature.
func (l *Letter) IsSigned() bool {
	return l.CoveringLetter != nil && l.CoveringLetter.IsSigned
}

// Owner returns the role currently holding the letter. Unforwarded letters are
// held by the inward desk that registered them.
func (l *Letter) Owner() RoleID {
	if l.ForwardTo == nil || strings.TrimSpace(string(*l.ForwardTo)) == "" {
		return RoleInwardUser
	}
	return NormalizeRole(string(*l.ForwardTo))
}

// Stage derives the lifecycle position.
func (l *Letter) Stage() Stage {
	if l.IsClosed() {
		return StageCaseClosed
	}
	if l.IsSigned() {
		if len(l.ReportFiles) > 0 {
			return StageReported
		}
		return StageSigned
	}
	switch l.Status() {
	case StatusSentToHead:
		return StageSentToHead
	case StatusApproved:
		return StageApproved
	case StatusRejected:
		return StageRejected
	}
	if l.ForwardTo != nil {
		return StageForwarded
	}
	return StageCreated
}

// Clone returns a deep copy so callers can derive new values without touching
// the original.
func (l *Letter) Clone() *Letter {
	if l == nil {
		return nil
	}
	out := *l
	if l.ForwardTo != nil {
		out.ForwardTo = RolePtr(*l.ForwardTo)
	}
	if l.SentToHeadBy != nil {
		out.SentToHeadBy = RolePtr(*l.SentToHeadBy)
	}
	if l.CoveringLetter != nil {
		cl := *l.CoveringLetter
		cl.DocumentURLs = append([]string(nil), l.CoveringLetter.DocumentURLs...)
		cl.StorageKeys = append([]string(nil), l.CoveringLetter.StorageKeys...)
		if l.CoveringLetter.SignedAt != nil {
			signedAt := *l.CoveringLetter.SignedAt
			cl.SignedAt = &signedAt
		}
		out.CoveringLetter = &cl
	}
	if l.UploadedFile != nil {
		file := *l.UploadedFile
		out.UploadedFile = &file
	}
	if l.ReportFiles != nil {
		out.ReportFiles = append(ReportFiles(nil), l.ReportFiles...)
	}
	return &out
}

// LetterFilter constrains listing queries. VisibleTo limits the result to
// letters a desk may open: those it holds and those it sent to the head.
type LetterFilter struct {
	Status        []LetterStatus
	HeldBy        []RoleID
	VisibleTo     RoleID
	Search        string
	IncludeClosed bool
	Limit         int
	Offset        int
}
