package hook

import (
	"warden/pkg/config"
	"warden/pkg/protocol"
)

// ToolMap maps tool names to gating categories. Unmapped tools are
// protocol.CatOtherAllowed.
type ToolMap map[string]protocol.Category

// NewToolMap builds a ToolMap from a category to tool-names table. Invalid
// categories are skipped; a tool listed twice keeps its last category in
// sorted category order.
func NewToolMap(tools map[string][]string) ToolMap {
	if tools == nil {
		tools = config.DefaultTools()
	}
	m := make(ToolMap)
	for cat, names := range tools {
		c := protocol.Category(cat)
		if !c.Valid() {
			continue
		}
		for _, name := range names {
			if prev, ok := m[name]; ok && prev > c {
				continue
			}
			m[name] = c
		}
	}
	return m
}

// Category returns the category of tool.
func (m ToolMap) Category(tool string) protocol.Category {
	if c, ok := m[tool]; ok {
		return c
	}
	return protocol.CatOtherAllowed
}
