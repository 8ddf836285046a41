// Package config loads brimd's INI-style configuration tree.
//
// A config file is a set of [section] blocks of key = value pairs. A
// [DEFAULT] section's keys are inherited by every other section. The
// [brim] section's additional_confs option names further files to merge
// in, last-wins, with cycle detection capped at 50 total files.
package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
)

// maxConfFiles bounds additional_confs recursion (spec: depth 50 accepted,
// 51 rejected).
const maxConfFiles = 50

var (
	trueValues  = map[string]bool{"1": true, "on": true, "t": true, "true": true, "y": true, "yes": true}
	falseValues = map[string]bool{"0": true, "f": true, "false": true, "n": true, "no": true, "off": true}
)

// Tree is a parsed configuration: section name -> option name -> value.
// Values already include [DEFAULT] inheritance and additional_confs
// merging by the time Load returns one.
type Tree struct {
	store map[string]map[string]string
	Files []string
}

// Get returns the section/option value, or def if the section or option
// is missing.
func (t *Tree) Get(section, option, def string) string {
	if s, ok := t.store[section]; ok {
		if v, ok := s[option]; ok && v != "" {
			return v
		}
	}
	return def
}

// Section returns a copy of a section's options, or nil if the section
// doesn't exist.
func (t *Tree) Section(name string) map[string]string {
	s, ok := t.store[name]
	if !ok {
		return nil
	}
	out := make(map[string]string, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// HasSection reports whether name was defined in any merged file.
func (t *Tree) HasSection(name string) bool {
	_, ok := t.store[name]
	return ok
}

// GetInt returns the option as an int, erroring if present but unparsable.
func (t *Tree) GetInt(section, option string, def int) (int, error) {
	v := t.Get(section, option, "")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("config [%s] %s = %q: not an integer", section, option, v)
	}
	return n, nil
}

// GetBool returns the option as a bool, erroring if present but unparsable.
func (t *Tree) GetBool(section, option string, def bool) (bool, error) {
	v := strings.ToLower(strings.TrimSpace(t.Get(section, option, "")))
	if v == "" {
		return def, nil
	}
	if trueValues[v] {
		return true, nil
	}
	if falseValues[v] {
		return false, nil
	}
	return false, fmt.Errorf("config [%s] %s = %q: not a boolean", section, option, v)
}

// GetList splits a space-separated option into its tokens.
func (t *Tree) GetList(section, option string) []string {
	v := t.Get(section, option, "")
	if v == "" {
		return nil
	}
	return strings.Fields(v)
}

// Load reads and merges the given config files in order (later files
// override earlier ones), following additional_confs chains out of the
// [brim] section up to maxConfFiles total files.
func Load(paths []string) (*Tree, error) {
	t := &Tree{store: map[string]map[string]string{}}
	seen := map[string]bool{}
	queue := append([]string{}, paths...)
	for len(queue) > 0 {
		path := queue[0]
		queue = queue[1:]
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		if seen[abs] {
			continue
		}
		if len(t.Files) >= maxConfFiles {
			return nil, fmt.Errorf("config: more than %d files in additional_confs chain", maxConfFiles)
		}
		if err := t.mergeFile(path); err != nil {
			return nil, err
		}
		seen[abs] = true
		t.Files = append(t.Files, path)
		for _, extra := range t.GetList("brim", "additional_confs") {
			if !seen[extra] {
				queue = append(queue, extra)
			}
		}
	}
	return t, nil
}

func (t *Tree) mergeFile(path string) error {
	f, err := ini.LoadSources(ini.LoadOptions{AllowBooleanKeys: true}, path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	var defaults map[string]string
	if f.HasSection(ini.DefaultSection) {
		defaults = sectionMap(f.Section(ini.DefaultSection))
	}
	for _, sec := range f.Sections() {
		name := sec.Name()
		if name == ini.DefaultSection {
			continue
		}
		merged := t.store[name]
		if merged == nil {
			merged = map[string]string{}
		}
		for k, v := range defaults {
			merged[k] = v
		}
		for k, v := range sectionMap(sec) {
			merged[k] = v
		}
		t.store[name] = merged
	}
	return nil
}

func sectionMap(sec *ini.Section) map[string]string {
	out := make(map[string]string, len(sec.Keys()))
	for _, k := range sec.Keys() {
		out[k.Name()] = k.Value()
	}
	return out
}
