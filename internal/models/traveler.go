package models

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

// TravelerSchemaVersion is the only manifest layout this build reads and writes.
const TravelerSchemaVersion = 1

type Traveler struct {
	Name   string `json:"name" validate:"required,max=120"`
	Age    int    `json:"age" validate:"gte=0,lte=120"`
	Gender string `json:"gender,omitempty" validate:"omitempty,oneof=male female other"`
}

// TravelerManifest is the persisted traveler list. The schema version travels
// with the data so stored rows are validated on every read.
type TravelerManifest struct {
	SchemaVersion int        `json:"schema_version"`
	Travelers     []Traveler `json:"travelers" validate:"dive"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func travelerValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// NewTravelerManifest wraps travelers in a current-version manifest and validates it.
func NewTravelerManifest(travelers []Traveler) (*TravelerManifest, error) {
	m := &TravelerManifest{SchemaVersion: TravelerSchemaVersion, Travelers: travelers}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *TravelerManifest) Validate() error {
	if m == nil {
		return nil
	}
	if m.SchemaVersion != TravelerSchemaVersion {
		return fmt.Errorf("unsupported traveler schema version %d", m.SchemaVersion)
	}
	if len(m.Travelers) == 0 {
		return fmt.Errorf("traveler manifest is empty")
	}
	if err := travelerValidator().Struct(m); err != nil {
		return fmt.Errorf("invalid traveler details: %w", err)
	}
	return nil
}

func (m *TravelerManifest) Len() int {
	if m == nil {
		return 0
	}
	return len(m.Travelers)
}

// ChargeableCount counts travelers whose age meets the threshold.
func (m *TravelerManifest) ChargeableCount(threshold int) int {
	if m == nil {
		return 0
	}
	count := 0
	for _, t := range m.Travelers {
		if t.Age >= threshold {
			count++
		}
	}
	return count
}

// EncodeTravelerManifest serializes a manifest; nil encodes to an empty string.
func EncodeTravelerManifest(m *TravelerManifest) (string, error) {
	if m == nil {
		return "", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode traveler manifest: %w", err)
	}
	return string(raw), nil
}

// DecodeTravelerManifest parses and validates a stored manifest.
// An empty payload means no traveler details were supplied.
func DecodeTravelerManifest(raw string) (*TravelerManifest, error) {
	if raw == "" {
		return nil, nil
	}
	var m TravelerManifest
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("decode traveler manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
