package ports

import "graphsync/domain/core/valueobjects"

// PositionSource exposes the current on-screen entity positions, keyed by
// entity ID. Layout snapshots are taken from it.
type PositionSource interface {
	// Positions returns a copy of the current entity positions
	Positions() map[string]valueobjects.Position
}
