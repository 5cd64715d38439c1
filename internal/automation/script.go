//go:build !no_automation

package automation

// ScriptMeta is the metadata header of a script file.
type ScriptMeta struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// Script is a Lua automation script stored as <dir>/<id>.lua.
type Script struct {
	ID   string     `json:"id"`
	Meta ScriptMeta `json:"meta"`
	Code string     `json:"code"`
	Path string     `json:"-"`
}
