package cbeta

import "github.com/olgasafonova/cbeta-mcp-server/internal/registry"

const localeZH = "zh-TW"

func text(en, zh string) registry.Text {
	return registry.Text{registry.DefaultLocale: en, localeZH: zh}
}

func requiredString(name, en, zh string) registry.Param {
	return registry.Param{Name: name, Type: registry.TypeString, Required: true, Description: text(en, zh)}
}

func optionalString(name, en, zh string) registry.Param {
	return registry.Param{Name: name, Type: registry.TypeString, Description: text(en, zh)}
}

func requiredInt(name, en, zh string) registry.Param {
	return registry.Param{Name: name, Type: registry.TypeInteger, Required: true, Description: text(en, zh)}
}

func optionalInt(name, en, zh string) registry.Param {
	return registry.Param{Name: name, Type: registry.TypeInteger, Description: text(en, zh)}
}

func intDefault(name string, def int, en, zh string) registry.Param {
	return registry.Param{Name: name, Type: registry.TypeInteger, Default: def, Description: text(en, zh)}
}

// Shared parameter descriptions.
var (
	paramRows  = intDefault("rows", 20, "Number of results to return", "回傳筆數")
	paramStart = intDefault("start", 0, "Offset of the first result", "起始位置")
	paramOrder = optionalString("order", "Sort order, e.g. 'time_from-'", "排序方式，如 'time_from-'")
	paramWork  = requiredString("work", "Work ID, e.g. 'T0001', 'T1501', 'X0600'", "佛典編號，如 'T0001'、'T1501'、'X0600'")
)

// lookup marks a tool as a read-only query against the remote API.
func lookup(t registry.Tool) registry.Tool {
	t.ReadOnly = true
	t.Idempotent = true
	t.OpenWorld = true
	return t
}
