package models

import (
	"fmt"
	"strings"
	"time"
)

// UnknownPhone is stored when no digit run in the filename looks like a phone number.
const UnknownPhone = "unknown"

// Classification is the triage bucket assigned to a recording.
type Classification string

const (
	Important     Classification = "important"
	Unimportant   Classification = "unimportant"
	PendingReview Classification = "pending_review"
)

// Valid reports whether c is one of the three defined classifications.
func (c Classification) Valid() bool {
	switch c {
	case Important, Unimportant, PendingReview:
		return true
	}
	return false
}

// ParseClassification accepts the canonical names plus a few spellings used by
// API clients ("pending", "review").
func ParseClassification(value string) (Classification, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "important":
		return Important, nil
	case "unimportant":
		return Unimportant, nil
	case "pending_review", "pending", "review":
		return PendingReview, nil
	}
	return "", fmt.Errorf("unknown classification %q", value)
}

// Category is the coarse number bucket derived from a phone-number prefix.
type Category string

const (
	CategoryCourier       Category = "courier"
	CategoryFoodDelivery  Category = "food_delivery"
	CategoryTelemarketing Category = "telemarketing"
	CategoryBank          Category = "bank"
	CategoryService       Category = "service"
	CategoryUnknown       Category = "unknown"
)

// Recording represents one call-recording file and its lifecycle state.
// FilePath is the identity of the record for the whole load cycle.
type Recording struct {
	FilePath        string         `json:"file_path"`
	PhoneNumber     string         `json:"phone_number"`
	CallTime        time.Time      `json:"call_time"`
	DurationSeconds float64        `json:"duration_seconds"`
	Classification  Classification `json:"classification"`
	Confirmed       bool           `json:"confirmed"`
}

// Contact is the read-only entry a contact directory exposes for a phone number.
type Contact struct {
	Name  string `json:"name" yaml:"name"`
	Group string `json:"group" yaml:"group"`
}

// SkippedFile records a path the scanner matched but could not turn into a Recording.
type SkippedFile struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// ScanResult is the output of one load cycle.
type ScanResult struct {
	ID         string        `json:"id"`
	Root       string        `json:"root"`
	Recordings []Recording   `json:"recordings"`
	Skipped    []SkippedFile `json:"skipped,omitempty"`
}

// ExportRecord is the serialisable view of a recording handed to export writers.
type ExportRecord struct {
	FilePath       string         `json:"file_path" yaml:"file_path"`
	PhoneNumber    string         `json:"phone_number" yaml:"phone_number"`
	ContactName    string         `json:"contact_name,omitempty" yaml:"contact_name,omitempty"`
	CallTime       string         `json:"call_time" yaml:"call_time"`
	Duration       float64        `json:"duration" yaml:"duration"`
	Classification Classification `json:"classification" yaml:"classification"`
	Confirmed      bool           `json:"confirmed" yaml:"confirmed"`
}
