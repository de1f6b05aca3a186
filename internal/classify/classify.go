// Package classify assigns the initial triage classification to scanned recordings.
package classify

import (
	"call-triage/internal/contacts"
	"call-triage/internal/models"
)

// DefaultShortCallSeconds is the duration below which an unidentified call is
// considered unimportant.
const DefaultShortCallSeconds = 10

// ContactLookup is the read-only view of a contact directory.
type ContactLookup interface {
	Lookup(phone string) (models.Contact, bool)
}

// NumberClassifier maps a phone number to a caller category.
type NumberClassifier interface {
	Classify(phone string) models.Category
}

// Engine applies the classification rules. It holds no per-run state and is
// safe to reuse.
type Engine struct {
	numbers          NumberClassifier
	shortCallSeconds float64
}

// NewEngine returns an Engine. A non-positive shortCallSeconds selects
// DefaultShortCallSeconds.
func NewEngine(numbers NumberClassifier, shortCallSeconds float64) *Engine {
	if shortCallSeconds <= 0 {
		shortCallSeconds = DefaultShortCallSeconds
	}
	return &Engine{numbers: numbers, shortCallSeconds: shortCallSeconds}
}

// Decide returns the classification for a single recording.
//
// Every known contact is Important regardless of group; the group tag is
// carried but not yet used to rank contacts.
func (e *Engine) Decide(rec models.Recording, directory ContactLookup) models.Classification {
	if directory != nil {
		if _, ok := directory.Lookup(contacts.Normalize(rec.PhoneNumber)); ok {
			return models.Important
		}
	}

	switch e.numbers.Classify(rec.PhoneNumber) {
	case models.CategoryCourier, models.CategoryFoodDelivery, models.CategoryTelemarketing:
		return models.Unimportant
	case models.CategoryService:
		return models.PendingReview
	}

	// Unknown numbers, and categories without a rule of their own such as
	// bank, fall through to the duration rule.
	if rec.DurationSeconds < e.shortCallSeconds {
		return models.Unimportant
	}
	return models.PendingReview
}

// Apply classifies every unconfirmed recording in place and returns how many
// classifications changed. Confirmed recordings are left untouched.
func (e *Engine) Apply(recordings []models.Recording, directory ContactLookup) int {
	changed := 0
	for i := range recordings {
		if recordings[i].Confirmed {
			continue
		}
		next := e.Decide(recordings[i], directory)
		if recordings[i].Classification != next {
			recordings[i].Classification = next
			changed++
		}
	}
	return changed
}

// Classify applies the default rules to recordings in place.
func Classify(recordings []models.Recording, directory ContactLookup, numbers NumberClassifier) {
	NewEngine(numbers, DefaultShortCallSeconds).Apply(recordings, directory)
}
