package models

import (
	"fmt"
	"strconv"
	"time"
)

// ActionType identifies the kind of user interaction.
type ActionType string

const (
	ActionView       ActionType = "view"
	ActionClick      ActionType = "click"
	ActionSearch     ActionType = "search"
	ActionFeatureUse ActionType = "feature_use"
	ActionComplete   ActionType = "complete"
	ActionAbandon    ActionType = "abandon"
	ActionNavigate   ActionType = "navigate"
	ActionEngage     ActionType = "engage"
)

// KnownActionTypes lists every action type with a dedicated detail variant.
var KnownActionTypes = []ActionType{
	ActionView, ActionClick, ActionSearch, ActionFeatureUse,
	ActionComplete, ActionAbandon, ActionNavigate, ActionEngage,
}

// DeviceClass is the coarse device category an event originated from.
type DeviceClass string

const (
	DeviceDesktop DeviceClass = "desktop"
	DeviceMobile  DeviceClass = "mobile"
	DeviceTablet  DeviceClass = "tablet"
	DeviceUnknown DeviceClass = "unknown"
)

// InteractionEvent is a single recorded user action. Events are immutable once recorded.
type InteractionEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	Detail    EventDetail       `json:"-"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Action    ActionType        `json:"action"`
	Target    string            `json:"target"`
	Context   string            `json:"context"`
	Device    DeviceClass       `json:"device"`
	SessionID string            `json:"session_id"`
	Duration  time.Duration     `json:"duration_ns"`
	Success   bool              `json:"success"`
}

// Validate checks the event invariants: non-empty action type and non-negative duration.
func (e *InteractionEvent) Validate() error {
	if e.Action == "" {
		return fmt.Errorf("%w: empty action type", ErrInvalidEvent)
	}
	if e.Duration < 0 {
		return fmt.Errorf("%w: negative duration %s", ErrInvalidEvent, e.Duration)
	}
	return nil
}

// Normalize fills derived fields (device class, typed detail) without changing
// anything the caller set explicitly.
func (e *InteractionEvent) Normalize() {
	if e.Device == "" {
		e.Device = DeviceUnknown
	}
	if e.Detail == nil {
		e.Detail = DetailFor(e.Action, e.Target, e.Metadata)
	}
}

// Feature returns the feature key this event counts towards.
func (e *InteractionEvent) Feature() string {
	if d, ok := e.Detail.(FeatureUseDetail); ok && d.Feature != "" {
		return d.Feature
	}
	return e.Target
}

// Category returns the catalog category the event relates to.
// An explicit "category" metadata entry wins over the context tag.
func (e *InteractionEvent) Category() string {
	if c := e.Metadata["category"]; c != "" {
		return c
	}
	return e.Context
}

// EventDetail is the typed payload of an interaction event. The interface is sealed:
// only the variants in this package implement it, so a type switch over them is exhaustive.
type EventDetail interface {
	eventDetail()
	Kind() ActionType
}

// ViewDetail describes a page or element view.
type ViewDetail struct {
	Page string `json:"page"`
}

// ClickDetail describes a click on an element.
type ClickDetail struct {
	Label string `json:"label"`
}

// SearchDetail describes a search query.
type SearchDetail struct {
	Query   string `json:"query"`
	Results int    `json:"results"`
}

// FeatureUseDetail describes use of a named feature.
type FeatureUseDetail struct {
	Feature string `json:"feature"`
}

// CompleteDetail describes a finished flow.
type CompleteDetail struct {
	Score float64 `json:"score"`
}

// AbandonDetail describes a flow left unfinished.
type AbandonDetail struct {
	Step string `json:"step"`
}

// NavigateDetail describes a route change.
type NavigateDetail struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// EngageDetail is the qualifying engagement signal for a gated feature.
type EngageDetail struct {
	GateID string `json:"gate_id"`
}

// CustomDetail carries any action type outside the known set.
type CustomDetail struct {
	Name string `json:"name"`
}

func (ViewDetail) eventDetail()       {}
func (ClickDetail) eventDetail()      {}
func (SearchDetail) eventDetail()     {}
func (FeatureUseDetail) eventDetail() {}
func (CompleteDetail) eventDetail()   {}
func (AbandonDetail) eventDetail()    {}
func (NavigateDetail) eventDetail()   {}
func (EngageDetail) eventDetail()     {}
func (CustomDetail) eventDetail()     {}

func (ViewDetail) Kind() ActionType       { return ActionView }
func (ClickDetail) Kind() ActionType      { return ActionClick }
func (SearchDetail) Kind() ActionType     { return ActionSearch }
func (FeatureUseDetail) Kind() ActionType { return ActionFeatureUse }
func (CompleteDetail) Kind() ActionType   { return ActionComplete }
func (AbandonDetail) Kind() ActionType    { return ActionAbandon }
func (NavigateDetail) Kind() ActionType   { return ActionNavigate }
func (EngageDetail) Kind() ActionType     { return ActionEngage }
func (d CustomDetail) Kind() ActionType   { return ActionType(d.Name) }

// DetailFor builds the typed detail for an action from its target and metadata.
// The detail is derived, never stored separately, so persisted events stay the
// single source of truth.
func DetailFor(action ActionType, target string, meta map[string]string) EventDetail {
	switch action {
	case ActionView:
		return ViewDetail{Page: firstNonEmpty(meta["page"], target)}
	case ActionClick:
		return ClickDetail{Label: firstNonEmpty(meta["label"], target)}
	case ActionSearch:
		n, _ := strconv.Atoi(meta["results"])
		return SearchDetail{Query: meta["query"], Results: n}
	case ActionFeatureUse:
		return FeatureUseDetail{Feature: firstNonEmpty(meta["feature"], target)}
	case ActionComplete:
		score, _ := strconv.ParseFloat(meta["score"], 64)
		return CompleteDetail{Score: score}
	case ActionAbandon:
		return AbandonDetail{Step: firstNonEmpty(meta["step"], target)}
	case ActionNavigate:
		return NavigateDetail{From: meta["from"], To: firstNonEmpty(meta["to"], target)}
	case ActionEngage:
		return EngageDetail{GateID: firstNonEmpty(meta["gate_id"], target)}
	default:
		return CustomDetail{Name: string(action)}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
