package domain

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidPermit     = errors.New("invalid permit")
	ErrInvalidStatus     = errors.New("invalid status")
	ErrInvalidPermitType = errors.New("invalid permit type")
)

// Permit statuses form a closed set. Transitions are driven by the
// service layer (approve moves to approved, sign moves to signed).
const (
	StatusPending  = "pending"
	StatusInReview = "in_review"
	StatusApproved = "approved"
	StatusRejected = "rejected"
	StatusExpired  = "expired"
	StatusSigned   = "signed"
)

const (
	TypeConstruction = "construction"
	TypeExcavation   = "excavation"
	TypeSignage      = "signage"
	TypeEvent        = "event"
	TypeDemolition   = "demolition"
)

var permitStatuses = map[string]struct{}{
	StatusPending:  {},
	StatusInReview: {},
	StatusApproved: {},
	StatusRejected: {},
	StatusExpired:  {},
	StatusSigned:   {},
}

var permitTypes = map[string]struct{}{
	TypeConstruction: {},
	TypeExcavation:   {},
	TypeSignage:      {},
	TypeEvent:        {},
	TypeDemolition:   {},
}

// MapPosition is the value of the map widget: a point picked on the
// municipal map for the permit site.
type MapPosition struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Permit is the domain record mutated through the HTTP API. PermitNumber is
// the human-facing identifier shown on documents; ID is the store key.
type Permit struct {
	ID             uint64
	PermitNumber   string
	Type           string
	Status         string
	ApplicantName  string
	ApplicantEmail string
	Location       string
	Position       *MapPosition
	Description    string
	ValidFrom      *time.Time
	ValidUntil     *time.Time
	Tags           []string
	Notes          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (p Permit) Validate() error {
	if strings.TrimSpace(p.PermitNumber) == "" {
		return ErrInvalidPermit
	}
	if strings.TrimSpace(p.ApplicantName) == "" {
		return ErrInvalidPermit
	}
	if err := ValidatePermitType(p.Type); err != nil {
		return err
	}
	if err := ValidateStatus(p.Status); err != nil {
		return err
	}
	if p.ValidFrom != nil && p.ValidUntil != nil && p.ValidUntil.Before(*p.ValidFrom) {
		return ErrInvalidPermit
	}
	return nil
}

func ValidateStatus(status string) error {
	if _, ok := permitStatuses[status]; !ok {
		return ErrInvalidStatus
	}
	return nil
}

func ValidatePermitType(permitType string) error {
	if _, ok := permitTypes[permitType]; !ok {
		return ErrInvalidPermitType
	}
	return nil
}

// PermitListFilter narrows the permit listing. Zero Limit means the
// handler default applies.
type PermitListFilter struct {
	Status string
	Type   string
	Limit  int
	Offset int
}

func (f PermitListFilter) Validate() error {
	if f.Status != "" {
		if err := ValidateStatus(f.Status); err != nil {
			return err
		}
	}
	if f.Type != "" {
		if err := ValidatePermitType(f.Type); err != nil {
			return err
		}
	}
	return nil
}
