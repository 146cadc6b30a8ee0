// Package store persists the robot registry and the last reconciled device
// snapshots so a restart resumes from known state.
package store

import (
	"errors"

	"kobold-bridge/internal/reconcile"
)

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface.
type Store interface {
	// Robot registry
	SaveRobot(r *Robot) error
	GetRobot(id string) (*Robot, error)
	DeleteRobot(id string) error
	ListRobots() ([]*Robot, error)

	// Last reconciled device state per robot
	SaveSnapshot(robotID string, snap *reconcile.Snapshot) error
	GetSnapshot(robotID string) (*reconcile.Snapshot, error)

	// Close the store
	Close() error
}
