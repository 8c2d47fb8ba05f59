package entities

import (
	"strings"
	"time"

	"graphsync/domain/core/valueobjects"
	pkgerrors "graphsync/pkg/errors"
)

// Layout is a named snapshot of entity screen positions, independent of graph
// content. At most one layout per cluster may be the default.
type Layout struct {
	id        valueobjects.LayoutID
	name      string
	isDefault bool
	clusterID string
	positions map[string]valueobjects.Position
	createdAt time.Time
}

// NewLayout snapshots the given positions under a name
func NewLayout(name string, isDefault bool, clusterID string, positions map[string]valueobjects.Position) (*Layout, error) {
	if strings.TrimSpace(name) == "" {
		return nil, pkgerrors.NewValidationError("layout name cannot be empty")
	}

	l := &Layout{
		id:        valueobjects.NewLayoutID(),
		name:      strings.TrimSpace(name),
		isDefault: isDefault,
		clusterID: clusterID,
		positions: make(map[string]valueobjects.Position, len(positions)),
		createdAt: time.Now(),
	}
	for entityID, pos := range positions {
		l.positions[entityID] = pos
	}

	return l, nil
}

// ReconstructLayout rebuilds a layout from replayed event data
func ReconstructLayout(
	id valueobjects.LayoutID,
	name string,
	isDefault bool,
	clusterID string,
	positions map[string]valueobjects.Position,
	createdAt time.Time,
) (*Layout, error) {
	if id.IsZero() {
		return nil, pkgerrors.NewValidationError("layout ID is required for reconstruction")
	}
	if strings.TrimSpace(name) == "" {
		return nil, pkgerrors.NewValidationError("layout name cannot be empty")
	}

	l := &Layout{
		id:        id,
		name:      strings.TrimSpace(name),
		isDefault: isDefault,
		clusterID: clusterID,
		positions: make(map[string]valueobjects.Position, len(positions)),
		createdAt: createdAt,
	}
	for entityID, pos := range positions {
		l.positions[entityID] = pos
	}

	return l, nil
}

// ID returns the layout's unique identifier
func (l *Layout) ID() valueobjects.LayoutID {
	return l.id
}

// Name returns the layout's display name
func (l *Layout) Name() string {
	return l.name
}

// IsDefault reports whether this layout is the default for its cluster
func (l *Layout) IsDefault() bool {
	return l.isDefault
}

// ClusterID returns the cluster this layout belongs to, if any
func (l *Layout) ClusterID() string {
	return l.clusterID
}

// Demote clears the default flag
func (l *Layout) Demote() {
	l.isDefault = false
}

// Positions returns a copy of the entity position map
func (l *Layout) Positions() map[string]valueobjects.Position {
	positions := make(map[string]valueobjects.Position, len(l.positions))
	for entityID, pos := range l.positions {
		positions[entityID] = pos
	}
	return positions
}

// CreatedAt returns when the layout was snapshotted
func (l *Layout) CreatedAt() time.Time {
	return l.createdAt
}
