package model

import (
	"errors"
	"strings"
	"time"
	"unicode"
)

// DefaultCooldown is how long an exported record stays out of rotation.
const DefaultCooldown = 15 * 24 * time.Hour

// CallStatus is the outcome recorded after calling a number.
type CallStatus string

const (
	CallStatusNone      CallStatus = ""
	CallStatusAnswered  CallStatus = "Contestaron"
	CallStatusHungUp    CallStatus = "Colgaron"
	CallStatusRevisit   CallStatus = "Revisita"
	CallStatusDoNotCall CallStatus = "No llamar"
	CallStatusSuspended CallStatus = "Suspendido"
	CallStatusReturned  CallStatus = "Devuelto"
	CallStatusNoAnswer  CallStatus = "No contestaron"
	CallStatusWitness   CallStatus = "Testigo"
)

var callStatuses = []CallStatus{
	CallStatusAnswered,
	CallStatusHungUp,
	CallStatusRevisit,
	CallStatusDoNotCall,
	CallStatusSuspended,
	CallStatusReturned,
	CallStatusNoAnswer,
	CallStatusWitness,
}

var ErrUnknownCallStatus = errors.New("unknown call status")

// CallStatuses lists every non-empty status.
func CallStatuses() []CallStatus {
	out := make([]CallStatus, len(callStatuses))
	copy(out, callStatuses)
	return out
}

// ParseCallStatus accepts any casing and surrounding spaces. Empty input
// yields CallStatusNone.
func ParseCallStatus(s string) (CallStatus, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return CallStatusNone, nil
	}
	for _, st := range callStatuses {
		if strings.EqualFold(string(st), s) {
			return st, nil
		}
	}
	return CallStatusNone, ErrUnknownCallStatus
}

type PhoneRecord struct {
	ID              string     `json:"id"`
	Owner           string     `json:"owner"`
	Address         string     `json:"address"`
	Number          string     `json:"number"`
	AssignedTo      string     `json:"assigned_to"`
	CallStatus      CallStatus `json:"call_status"`
	Comments        string     `json:"comments"`
	AssignedAt      *time.Time `json:"assigned_at,omitempty"`
	StatusChangedAt *time.Time `json:"status_changed_at,omitempty"`
	IsAssigned      bool       `json:"is_assigned"`
	Version         int64      `json:"-"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// InCooldown reports whether the record was exported less than cooldown ago.
// A record flagged as assigned without an assignment time is not in cooldown.
func (p *PhoneRecord) InCooldown(now time.Time, cooldown time.Duration) bool {
	if !p.IsAssigned || p.AssignedAt == nil {
		return false
	}
	return now.Sub(*p.AssignedAt) <= cooldown
}

// IsAvailable reports whether the record may be handed out in a new batch.
func (p *PhoneRecord) IsAvailable(now time.Time, cooldown time.Duration) bool {
	return p.CallStatus == CallStatusNone && !p.InCooldown(now, cooldown)
}

// IsReclaimable reports whether a pool reset would make the record available.
func (p *PhoneRecord) IsReclaimable(now time.Time, cooldown time.Duration) bool {
	return p.CallStatus != CallStatusNone && !p.InCooldown(now, cooldown)
}

// NormalizeNumber keeps only the digits of s.
func NormalizeNumber(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsDigit(r) && r < unicode.MaxASCII {
			b.WriteRune(r)
		}
	}
	return b.String()
}

type PhoneCreateRequest struct {
	Owner      string     `json:"owner"`
	Address    string     `json:"address"`
	Number     string     `json:"number"`
	AssignedTo string     `json:"assigned_to"`
	CallStatus CallStatus `json:"call_status"`
	Comments   string     `json:"comments"`
}

func (p PhoneCreateRequest) Validate() error {
	if NormalizeNumber(p.Number) == "" {
		return errors.New("number is required")
	}
	if _, err := ParseCallStatus(string(p.CallStatus)); err != nil {
		return err
	}
	return nil
}

// PhoneUpdateRequest carries optional field changes; nil fields are left as is.
type PhoneUpdateRequest struct {
	Owner      *string     `json:"owner"`
	Address    *string     `json:"address"`
	Number     *string     `json:"number"`
	AssignedTo *string     `json:"assigned_to"`
	CallStatus *CallStatus `json:"call_status"`
	Comments   *string     `json:"comments"`
}

func (p PhoneUpdateRequest) Validate() error {
	if p.Number != nil && NormalizeNumber(*p.Number) == "" {
		return errors.New("number must contain digits")
	}
	if p.CallStatus != nil {
		if _, err := ParseCallStatus(string(*p.CallStatus)); err != nil {
			return err
		}
	}
	return nil
}

// PhoneFilter controls List queries.
type PhoneFilter struct {
	CallStatus *CallStatus
	AssignedTo *string
	Search     string // matches owner, address or number
	Limit      int    // default 50
	Offset     int
}

// BatchResult is returned when a caller asks for a rotation batch.
type BatchResult struct {
	Records        []*PhoneRecord `json:"records"`
	TotalAvailable int            `json:"total_available"`
	NeedsReset     bool           `json:"needs_reset"`
}

// ResetResult summarises a pool reset. Records changed concurrently are skipped.
type ResetResult struct {
	Cleared int      `json:"cleared"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors"`
}

// ImportResult summarises a bulk import.
type ImportResult struct {
	Created int      `json:"created"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors"`
}

// PhoneStats is a snapshot of the rotation pool.
type PhoneStats struct {
	Total       int                `json:"total"`
	Available   int                `json:"available"`
	InCooldown  int                `json:"in_cooldown"`
	Reclaimable int                `json:"reclaimable"`
	ByStatus    map[CallStatus]int `json:"by_status"`
}
