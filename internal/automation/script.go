//go:build !no_automation

package automation

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ScriptMeta is the JSON header line of a script file.
type ScriptMeta struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// Script is one frame filter stored as <id>.lua.
type Script struct {
	ID       string     `json:"id"`
	Meta     ScriptMeta `json:"meta"`
	LuaCode  string     `json:"lua_code"`
	FilePath string     `json:"-"`
}

var metaPrefix = []byte("-- {")

// decodeScript splits a script file into its metadata line and code.
// A file without a metadata line is enabled and named after its id.
func decodeScript(id string, data []byte) (*Script, error) {
	s := &Script{ID: id, Meta: ScriptMeta{Name: id, Enabled: true}}
	if !bytes.HasPrefix(data, metaPrefix) {
		s.LuaCode = string(data)
		return s, nil
	}
	header, code, _ := bytes.Cut(data, []byte("\n"))
	var meta ScriptMeta
	if err := json.Unmarshal(header[len("-- "):], &meta); err != nil {
		return s, fmt.Errorf("automation: script %s: metadata: %w", id, err)
	}
	s.Meta = meta
	s.LuaCode = string(bytes.TrimLeft(code, "\n"))
	return s, nil
}

// encode renders the file form: metadata line, blank line, code ending in
// a newline.
func (s *Script) encode() []byte {
	var buf bytes.Buffer
	meta, _ := json.Marshal(s.Meta)
	buf.WriteString("-- ")
	buf.Write(meta)
	buf.WriteByte('\n')
	if s.LuaCode == "" {
		return buf.Bytes()
	}
	buf.WriteByte('\n')
	buf.WriteString(s.LuaCode)
	if s.LuaCode[len(s.LuaCode)-1] != '\n' {
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}
