// Package routefile loads the route catalogue: a YAML document listing
// every campus route with its ordered waypoints and schedule.
package routefile

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"campusbus/internal/domain"
)

var ErrInvalidCatalogue = errors.New("invalid route catalogue")

// Catalogue is the document root
type Catalogue struct {
	Routes []*domain.Route `yaml:"routes" validate:"min=1,dive,required"`
}

var validate = mustValidator()

func mustValidator() *validator.Validate {
	v, err := newValidator()
	if err != nil {
		panic(fmt.Sprintf("routefile: %v", err))
	}
	return v
}

func newValidator() (*validator.Validate, error) {
	v := validator.New()
	err := v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		_, ok := domain.ParseClock(fl.Field().String())
		return ok
	})
	if err != nil {
		return nil, fmt.Errorf("register clock validation: %w", err)
	}
	return v, nil
}

// Parse decodes and validates a catalogue. Every failure wraps ErrInvalidCatalogue.
func Parse(data []byte) (*Catalogue, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cat Catalogue
	if err := dec.Decode(&cat); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidCatalogue, err)
	}

	if err := finish(&cat); err != nil {
		return nil, err
	}
	return &cat, nil
}

// finish validates a decoded catalogue and fills in waypoint kinds
func finish(cat *Catalogue) error {
	if err := validate.Struct(cat); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCatalogue, err)
	}

	seen := make(map[string]struct{}, len(cat.Routes))
	for _, r := range cat.Routes {
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("%w: duplicate route id %q", ErrInvalidCatalogue, r.ID)
		}
		seen[r.ID] = struct{}{}

		for i := range r.Waypoints {
			if r.Waypoints[i].Kind == "" {
				r.Waypoints[i].Kind = r.KindAt(i)
			}
		}
	}
	return nil
}

func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
