// Package models holds the value types shared by the store, the aggregation
// engine and the distribution layer.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Level identifies a tier of the asset hierarchy.
type Level string

const (
	LevelEquipment Level = "EQUIPMENT"
	LevelPlant     Level = "PLANT"
	LevelState     Level = "STATE"
	LevelSector    Level = "SECTOR"
)

// AllEntities is the entity id used for the implicit Sector root and for
// wildcard matches.
const AllEntities = "ALL"

// ParseLevel accepts a level name in any case.
func ParseLevel(s string) (Level, error) {
	switch l := Level(strings.ToUpper(strings.TrimSpace(s))); l {
	case LevelEquipment, LevelPlant, LevelState, LevelSector:
		return l, nil
	default:
		return "", fmt.Errorf("unknown level %q", s)
	}
}

// Child returns the level directly below l, or "" for equipment.
func (l Level) Child() Level {
	switch l {
	case LevelSector:
		return LevelState
	case LevelState:
		return LevelPlant
	case LevelPlant:
		return LevelEquipment
	default:
		return ""
	}
}

// Status is the operating status of one piece of equipment.
type Status string

const (
	StatusOperational Status = "OPERATIONAL"
	StatusMaintenance Status = "MAINTENANCE"
	StatusFault       Status = "FAULT"
	StatusUnknown     Status = "UNKNOWN"
)

// ParseStatus maps a stored status string onto a Status; anything
// unrecognised is UNKNOWN.
func ParseStatus(s string) Status {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusOperational, StatusMaintenance, StatusFault:
		return st
	default:
		return StatusUnknown
	}
}

// Measurement is one immutable reading reported by a piece of equipment.
type Measurement struct {
	EquipmentID string             `json:"equipmentId"`
	PlantID     string             `json:"plantId"`
	Timestamp   time.Time          `json:"timestamp"`
	Metrics     map[string]float64 `json:"metrics"`
}

// Node is one entity of the hierarchy. ParentID is empty for states, whose
// parent is the implicit sector.
type Node struct {
	ID       string `json:"id"`
	Level    Level  `json:"level"`
	ParentID string `json:"parentId,omitempty"`
	Name     string `json:"name,omitempty"`
	Kind     string `json:"kind,omitempty"`
	Status   Status `json:"status,omitempty"`
}
