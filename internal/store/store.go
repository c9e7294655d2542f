// Package store persists the recording session with gorm so it survives a
// process restart.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"actionrecorder/backend/internal/coordinator"
	"actionrecorder/backend/internal/models"

	"gorm.io/gorm"
)

// stateID is the primary key of the single recorder_states row.
const stateID = 1

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

var _ coordinator.Store = (*Store)(nil)

func (s *Store) Load(ctx context.Context) (coordinator.Snapshot, error) {
	snap := coordinator.Snapshot{Pages: make(map[int]models.PageContext)}
	db := s.db.WithContext(ctx)

	var state models.RecorderState
	err := db.First(&state, stateID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return snap, nil
	}
	if err != nil {
		return snap, fmt.Errorf("load recorder state: %w", err)
	}
	snap.IsRecording = state.IsRecording
	snap.SessionID = state.SessionID
	snap.PageCounter = state.PageCounter
	snap.Settings = state.Settings

	var mappings []models.TabMapping
	if err := db.Find(&mappings).Error; err != nil {
		return snap, fmt.Errorf("load tab mappings: %w", err)
	}
	for _, m := range mappings {
		snap.Pages[m.TabID] = models.PageContext{PageNumber: m.PageNumber, URL: m.URL}
	}

	if state.SessionID == "" {
		return snap, nil
	}
	var rows []models.RecordedAction
	if err := db.Where("session_id = ?", state.SessionID).Order("seq").Find(&rows).Error; err != nil {
		return snap, fmt.Errorf("load actions: %w", err)
	}
	snap.Actions = make([]models.Action, 0, len(rows))
	for _, row := range rows {
		snap.Actions = append(snap.Actions, row.Payload)
	}
	return snap, nil
}

// SaveState writes the session flags and replaces every tab mapping.
func (s *Store) SaveState(ctx context.Context, snap coordinator.Snapshot) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		state := models.RecorderState{
			ID:          stateID,
			IsRecording: snap.IsRecording,
			SessionID:   snap.SessionID,
			PageCounter: snap.PageCounter,
			Settings:    snap.Settings,
		}
		if err := tx.Save(&state).Error; err != nil {
			return fmt.Errorf("save recorder state: %w", err)
		}

		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.TabMapping{}).Error; err != nil {
			return fmt.Errorf("clear tab mappings: %w", err)
		}
		if len(snap.Pages) == 0 {
			return nil
		}
		mappings := make([]models.TabMapping, 0, len(snap.Pages))
		for id, pc := range snap.Pages {
			mappings = append(mappings, models.TabMapping{TabID: id, PageNumber: pc.PageNumber, URL: pc.URL})
		}
		sort.Slice(mappings, func(i, j int) bool { return mappings[i].TabID < mappings[j].TabID })
		if err := tx.Create(&mappings).Error; err != nil {
			return fmt.Errorf("save tab mappings: %w", err)
		}
		return nil
	})
}

func (s *Store) AppendAction(ctx context.Context, sessionID string, seq int, action models.Action) error {
	row := models.RecordedAction{SessionID: sessionID, Seq: seq, Payload: action}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("append action %d: %w", seq, err)
	}
	return nil
}

func (s *Store) ClearActions(ctx context.Context) error {
	err := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.RecordedAction{}).Error
	if err != nil {
		return fmt.Errorf("clear actions: %w", err)
	}
	return nil
}
