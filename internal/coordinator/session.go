package coordinator

import (
	"sort"

	"actionrecorder/backend/internal/models"
)

// Session is everything the coordinator owns for one recording. It is only
// touched with Coordinator.mutex held.
type Session struct {
	IsRecording bool
	ID          string
	Actions     []models.Action
	PageCounter int
	Pages       map[int]models.PageContext
	ActiveTabs  map[int]struct{}
	Settings    models.Settings
}

func newSession() *Session {
	return &Session{
		Pages:      make(map[int]models.PageContext),
		ActiveTabs: make(map[int]struct{}),
	}
}

// begin starts numbering pages from scratch. The log and the session id only
// change when recording was off before.
func (s *Session) begin(newID func() string) (fresh bool) {
	fresh = !s.IsRecording
	s.IsRecording = true
	s.PageCounter = 0
	s.Pages = make(map[int]models.PageContext)
	if fresh {
		s.Actions = nil
		s.ID = newID()
	}
	return fresh
}

// assignPage gives tabID the next page number unless it already has one.
func (s *Session) assignPage(tabID int, url string) (models.PageContext, bool) {
	if pc, ok := s.Pages[tabID]; ok {
		return pc, false
	}
	s.PageCounter++
	pc := models.PageContext{PageNumber: s.PageCounter, URL: url}
	s.Pages[tabID] = pc
	return pc, true
}

func (s *Session) activeTabIDs() []int {
	ids := make([]int, 0, len(s.ActiveTabs))
	for id := range s.ActiveTabs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (s *Session) snapshot() Snapshot {
	pages := make(map[int]models.PageContext, len(s.Pages))
	for id, pc := range s.Pages {
		pages[id] = pc
	}
	return Snapshot{
		IsRecording: s.IsRecording,
		SessionID:   s.ID,
		PageCounter: s.PageCounter,
		Settings:    s.Settings,
		Pages:       pages,
	}
}

// Snapshot is the persisted form of a session. Actions are only filled by
// Store.Load; they are written one at a time through AppendAction.
type Snapshot struct {
	IsRecording bool
	SessionID   string
	PageCounter int
	Settings    models.Settings
	Pages       map[int]models.PageContext
	Actions     []models.Action
}

// Status is a read-only view for API callers.
type Status struct {
	IsRecording bool                       `json:"is_recording"`
	SessionID   string                     `json:"session_id"`
	PageCounter int                        `json:"page_counter"`
	ActionCount int                        `json:"action_count"`
	Pages       map[int]models.PageContext `json:"pages"`
	ActiveTabs  []int                      `json:"active_tabs"`
	Settings    models.Settings            `json:"settings"`
}
