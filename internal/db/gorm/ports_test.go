package gorm

import "github.com/thebtf/adaptly/internal/engine"

var (
	_ engine.ProfileStore        = (*ProfileStore)(nil)
	_ engine.CatalogStore        = (*CatalogStore)(nil)
	_ engine.PatternRepository   = (*PatternStore)(nil)
	_ engine.GateStateRepository = (*GateStore)(nil)
	_ engine.EventLog            = (*EventStore)(nil)
)
