// Package schema versions, validates, and migrates event payloads. Every
// payload appended to or replayed from the event log passes through the
// registry so old events remain readable as payload shapes evolve.
package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	pkgerrors "graphsync/pkg/errors"
)

// Prototype returns a fresh pointer to the payload struct for one schema
// version. The registry decodes payloads into it and runs struct validation.
type Prototype func() interface{}

// MigrationFunc transforms a payload one version forward
type MigrationFunc func(json.RawMessage) (json.RawMessage, error)

// ValidationIssue is a single field-level validation failure
type ValidationIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult is the structured outcome of validating a payload
type ValidationResult struct {
	IsValid bool              `json:"isValid"`
	Errors  []ValidationIssue `json:"errors,omitempty"`
}

type migrationKey struct {
	eventType   string
	fromVersion string
}

type migration struct {
	toVersion string
	fn        MigrationFunc
}

// Registry holds versioned payload schemas per event type. The highest
// registered version of an event type is its active version. Safe for
// concurrent use.
type Registry struct {
	mu         sync.RWMutex
	schemas    map[string]map[string]Prototype // eventType -> version -> prototype
	active     map[string]string               // eventType -> highest version
	migrations map[migrationKey]migration
	validate   *validator.Validate
}

// NewRegistry creates an empty schema registry
func NewRegistry() *Registry {
	return &Registry{
		schemas:    make(map[string]map[string]Prototype),
		active:     make(map[string]string),
		migrations: make(map[migrationKey]migration),
		validate:   validator.New(),
	}
}

// Register adds a schema for an event type and version. Registering the same
// (eventType, version) pair twice is an error.
func (r *Registry) Register(eventType, version string, prototype Prototype) error {
	if eventType == "" || version == "" {
		return pkgerrors.NewValidationError("event type and version are required")
	}
	if prototype == nil {
		return pkgerrors.NewValidationError("schema prototype cannot be nil")
	}
	if _, err := parseVersion(version); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	versions, ok := r.schemas[eventType]
	if !ok {
		versions = make(map[string]Prototype)
		r.schemas[eventType] = versions
	}
	if _, exists := versions[version]; exists {
		return pkgerrors.NewDuplicateSchemaError(eventType, version)
	}
	versions[version] = prototype

	if current, ok := r.active[eventType]; !ok || compareVersions(version, current) > 0 {
		r.active[eventType] = version
	}
	return nil
}

// RegisterMigration adds a one-hop forward migration. Chained migrations are
// applied in sequence until the active version is reached.
func (r *Registry) RegisterMigration(eventType, fromVersion, toVersion string, fn MigrationFunc) error {
	if fn == nil {
		return pkgerrors.NewValidationError("migration function cannot be nil")
	}
	if compareVersions(toVersion, fromVersion) <= 0 {
		return pkgerrors.NewValidationError(
			fmt.Sprintf("migration for %s must move forward, got %s -> %s", eventType, fromVersion, toVersion))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := migrationKey{eventType: eventType, fromVersion: fromVersion}
	if _, exists := r.migrations[key]; exists {
		return pkgerrors.NewDuplicateSchemaError(eventType, fromVersion+"->"+toVersion)
	}
	r.migrations[key] = migration{toVersion: toVersion, fn: fn}
	return nil
}

// ActiveVersion returns the highest registered version for an event type
func (r *Registry) ActiveVersion(eventType string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	version, ok := r.active[eventType]
	if !ok {
		return "", pkgerrors.NewUnknownSchemaError(eventType, "")
	}
	return version, nil
}

// EventTypes returns every event type with at least one registered schema
func (r *Registry) EventTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.schemas))
	for t := range r.schemas {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Validate checks a payload against the schema registered for the given
// event type and version. Validation failures are reported in the result,
// not as an error; the error return is reserved for unknown schemas and
// undecodable payloads.
func (r *Registry) Validate(eventType, version string, payload json.RawMessage) (ValidationResult, error) {
	r.mu.RLock()
	prototype, ok := r.schemas[eventType][version]
	r.mu.RUnlock()
	if !ok {
		return ValidationResult{}, pkgerrors.NewUnknownSchemaError(eventType, version)
	}

	target := prototype()
	decoder := json.NewDecoder(strings.NewReader(string(payload)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return ValidationResult{
			IsValid: false,
			Errors:  []ValidationIssue{{Field: "payload", Message: err.Error()}},
		}, nil
	}

	if err := r.validate.Struct(target); err != nil {
		var issues []ValidationIssue
		if fieldErrors, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range fieldErrors {
				issues = append(issues, ValidationIssue{
					Field:   fe.Field(),
					Message: fmt.Sprintf("failed %q validation", fe.Tag()),
				})
			}
		} else {
			issues = append(issues, ValidationIssue{Field: "payload", Message: err.Error()})
		}
		return ValidationResult{IsValid: false, Errors: issues}, nil
	}

	return ValidationResult{IsValid: true}, nil
}

// Migrate walks a payload forward from its recorded version to the active
// version, one registered hop at a time. Returns the migrated payload and the
// version it landed on. A payload already at the active version passes
// through unchanged; a gap in the migration chain is an error.
func (r *Registry) Migrate(eventType, fromVersion string, payload json.RawMessage) (json.RawMessage, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	activeVersion, ok := r.active[eventType]
	if !ok {
		return nil, "", pkgerrors.NewUnknownSchemaError(eventType, fromVersion)
	}
	if _, known := r.schemas[eventType][fromVersion]; !known {
		return nil, "", pkgerrors.NewUnknownSchemaError(eventType, fromVersion)
	}

	current := fromVersion
	for compareVersions(current, activeVersion) < 0 {
		step, ok := r.migrations[migrationKey{eventType: eventType, fromVersion: current}]
		if !ok {
			return nil, "", pkgerrors.NewValidationError(
				fmt.Sprintf("no migration path for %s from version %s to %s", eventType, current, activeVersion))
		}
		migrated, err := step.fn(payload)
		if err != nil {
			return nil, "", pkgerrors.Wrapf(err, "migrating %s from %s to %s", eventType, current, step.toVersion)
		}
		payload = migrated
		current = step.toVersion
	}

	return payload, current, nil
}

// parseVersion splits a dotted-decimal version string into numeric parts
func parseVersion(version string) ([]int, error) {
	parts := strings.Split(version, ".")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, pkgerrors.NewValidationError("invalid schema version: " + version)
		}
		out = append(out, n)
	}
	return out, nil
}

// compareVersions orders dotted-decimal versions numerically. Unparseable
// parts compare as zero.
func compareVersions(a, b string) int {
	av, _ := parseVersion(a)
	bv, _ := parseVersion(b)
	for i := 0; i < len(av) || i < len(bv); i++ {
		var x, y int
		if i < len(av) {
			x = av[i]
		}
		if i < len(bv) {
			y = bv[i]
		}
		if x != y {
			if x < y {
				return -1
			}
			return 1
		}
	}
	return 0
}
