package models

import (
	"time"
)

type ActionType string

const (
	ActionClick       ActionType = "click"
	ActionInput       ActionType = "input"
	ActionClear       ActionType = "clear"
	ActionSelect      ActionType = "select"
	ActionCheck       ActionType = "check"
	ActionUncheck     ActionType = "uncheck"
	ActionFileUpload  ActionType = "fileUpload"
	ActionBlur        ActionType = "blur"
	ActionFocus       ActionType = "focus"
	ActionEnterPress  ActionType = "keypress" // Enter that committed a pending input
	ActionKeyPress    ActionType = "keyPress"
	ActionHover       ActionType = "hover"
	ActionDragStart   ActionType = "dragStart"
	ActionDragDrop    ActionType = "dragDrop"
	ActionDoubleClick ActionType = "doubleClick"
	ActionRightClick  ActionType = "rightClick"
	ActionAssertion   ActionType = "assertion"
)

// ElementDescriptor is a snapshot of a DOM element taken when the action was
// captured. It never refers back to the live node.
type ElementDescriptor struct {
	TagName     string      `json:"tag_name"`
	ID          string      `json:"id,omitempty"`
	Classes     []string    `json:"classes,omitempty"`
	Name        string      `json:"name,omitempty"`
	Type        string      `json:"type,omitempty"`
	Value       string      `json:"value,omitempty"`
	Placeholder string      `json:"placeholder,omitempty"`
	Role        string      `json:"role,omitempty"`
	Label       string      `json:"label,omitempty"`
	Text        string      `json:"text,omitempty"`
	TestID      string      `json:"test_id,omitempty"`
	Title       string      `json:"title,omitempty"`
	SVGParent   bool        `json:"svg_parent,omitempty"`
	OriginalSVG *SVGElement `json:"original_svg,omitempty"`
}

type SVGElement struct {
	TagName string `json:"tag_name"`
	Role    string `json:"role,omitempty"`
}

// PageContext ties a tab to the page number it was given when first seen
// during the current recording session. The zero value means "unknown".
type PageContext struct {
	PageNumber int    `json:"page_number"`
	URL        string `json:"url"`
}

func (p PageContext) IsZero() bool {
	return p.PageNumber == 0
}

type DragData struct {
	StartX float64 `json:"start_x"`
	StartY float64 `json:"start_y"`
	EndX   float64 `json:"end_x"`
	EndY   float64 `json:"end_y"`
}

type Action struct {
	Type        ActionType         `json:"type"`
	Timestamp   int64              `json:"timestamp"` // unix milliseconds
	Element     *ElementDescriptor `json:"element,omitempty"`
	Selector    string             `json:"selector,omitempty"`
	Value       string             `json:"value,omitempty"`
	Key         string             `json:"key,omitempty"`
	Files       []string           `json:"files,omitempty"`
	Drag        *DragData          `json:"drag,omitempty"`
	Target      *ElementDescriptor `json:"target,omitempty"` // drop target for dragDrop
	TargetSel   string             `json:"target_selector,omitempty"`
	PageContext PageContext        `json:"page_context"`
	URL         string             `json:"url"`
}

type Settings struct {
	CaptureHover     bool `json:"capture_hover"`
	CaptureBlurFocus bool `json:"capture_blur_focus"`
	DarkMode         bool `json:"dark_mode"`
}

// Persisted rows. Only the coordinator's store writes these.

type RecorderState struct {
	ID          uint      `json:"id" gorm:"primarykey"`
	IsRecording bool      `json:"is_recording"`
	SessionID   string    `json:"session_id" gorm:"size:64"`
	PageCounter int       `json:"page_counter"`
	Settings    Settings  `json:"settings" gorm:"serializer:json;type:text"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type RecordedAction struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	SessionID string    `json:"session_id" gorm:"size:64;index"`
	Seq       int       `json:"seq" gorm:"index"`
	Payload   Action    `json:"payload" gorm:"serializer:json;type:text"`
	CreatedAt time.Time `json:"created_at"`
}

type TabMapping struct {
	TabID      int    `json:"tab_id" gorm:"primaryKey;autoIncrement:false"`
	PageNumber int    `json:"page_number" gorm:"not null"`
	URL        string `json:"url" gorm:"size:2048"`
}
