package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/gridpulse/gridpulse/services/api/apperr"
	"github.com/gridpulse/gridpulse/services/api/models"
)

const listStatesSQL = `
    SELECT id, name
    FROM gridpulse.states
    ORDER BY id
`

const plantsOfStateSQL = `
    SELECT id, state_id, name
    FROM gridpulse.plants
    WHERE state_id = $1
    ORDER BY id
`

const equipmentOfPlantSQL = `
    SELECT id, plant_id, name, kind, status
    FROM gridpulse.equipment
    WHERE plant_id = $1
    ORDER BY id
`

const equipmentStatusSQL = `
    SELECT id, status
    FROM gridpulse.equipment
    WHERE id = ANY($1)
`

// ChildrenOf lists the direct children of an entity. SECTOR lists every
// state and ignores entityID; EQUIPMENT has no children.
func (s *Store) ChildrenOf(ctx context.Context, level models.Level, entityID string) ([]models.Node, error) {
	switch level {
	case models.LevelSector:
		return s.queryNodes(ctx, models.LevelState, listStatesSQL)
	case models.LevelState:
		return s.queryNodes(ctx, models.LevelPlant, plantsOfStateSQL, entityID)
	case models.LevelPlant:
		return s.queryNodes(ctx, models.LevelEquipment, equipmentOfPlantSQL, entityID)
	case models.LevelEquipment:
		return []models.Node{}, nil
	default:
		return nil, apperr.Invalid("children", "unknown level %q", level)
	}
}

func (s *Store) queryNodes(ctx context.Context, level models.Level, sql string, args ...any) ([]models.Node, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	nodes := make([]models.Node, 0)
	for rows.Next() {
		n := models.Node{Level: level}
		var name, kind, status *string
		switch level {
		case models.LevelState:
			err = rows.Scan(&n.ID, &name)
		case models.LevelPlant:
			err = rows.Scan(&n.ID, &n.ParentID, &name)
		default:
			err = rows.Scan(&n.ID, &n.ParentID, &name, &kind, &status)
		}
		if err != nil {
			return nil, err
		}
		if name != nil {
			n.Name = *name
		}
		if kind != nil {
			n.Kind = *kind
		}
		if level == models.LevelEquipment {
			n.Status = models.StatusUnknown
			if status != nil {
				n.Status = models.ParseStatus(*status)
			}
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// StatusOf returns the operating status of each equipment id. Ids missing
// from the table are reported as UNKNOWN.
func (s *Store) StatusOf(ctx context.Context, equipmentIDs []string) (map[string]models.Status, error) {
	out := make(map[string]models.Status, len(equipmentIDs))
	for _, id := range equipmentIDs {
		out[id] = models.StatusUnknown
	}
	if len(equipmentIDs) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, equipmentStatusSQL, equipmentIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id     string
			status *string
		)
		if err := rows.Scan(&id, &status); err != nil {
			return nil, err
		}
		if status != nil {
			out[id] = models.ParseStatus(*status)
		}
	}
	return out, rows.Err()
}

// Exists reports whether the entity is known. The sector always exists.
func (s *Store) Exists(ctx context.Context, level models.Level, entityID string) (bool, error) {
	var sql string
	switch level {
	case models.LevelSector:
		return true, nil
	case models.LevelState:
		sql = `SELECT EXISTS (SELECT 1 FROM gridpulse.states WHERE id = $1)`
	case models.LevelPlant:
		sql = `SELECT EXISTS (SELECT 1 FROM gridpulse.plants WHERE id = $1)`
	case models.LevelEquipment:
		sql = `SELECT EXISTS (SELECT 1 FROM gridpulse.equipment WHERE id = $1)`
	default:
		return false, apperr.Invalid("exists", "unknown level %q", level)
	}
	var ok bool
	if err := s.pool.QueryRow(ctx, sql, entityID).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// ParentOf returns the id of the entity's parent: the state of a plant or
// the plant of a piece of equipment.
func (s *Store) ParentOf(ctx context.Context, level models.Level, entityID string) (string, error) {
	var sql string
	switch level {
	case models.LevelPlant:
		sql = `SELECT state_id FROM gridpulse.plants WHERE id = $1`
	case models.LevelEquipment:
		sql = `SELECT plant_id FROM gridpulse.equipment WHERE id = $1`
	default:
		return "", apperr.Invalid("parent", "%s has no stored parent", level)
	}
	var parent string
	err := s.pool.QueryRow(ctx, sql, entityID).Scan(&parent)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", apperr.NotFound("parent", "%s %q does not exist", level, entityID)
	}
	if err != nil {
		return "", err
	}
	return parent, nil
}
