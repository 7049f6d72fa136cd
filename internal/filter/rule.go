package filter

import (
	"bytes"
	"encoding/json"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule is a single exclusion rule from the excludedEvents list.
//
// A rule is written either as a bare string, which is matched as a
// case-insensitive substring of the event title, or as an object:
//
//	{filterBy: "standup", caseSensitive: true}
//	{filterBy: "/^OOO/", regex: true}
//	{filterBy: "Holiday", until: "2026-01-01"}
type Rule struct {
	FilterBy      string `json:"filterBy" yaml:"filterBy"`
	Regex         bool   `json:"regex,omitempty" yaml:"regex,omitempty"`
	CaseSensitive bool   `json:"caseSensitive,omitempty" yaml:"caseSensitive,omitempty"`
	// Until turns a matching rule into an allowance: the event is kept.
	Until string `json:"until,omitempty" yaml:"until,omitempty"`

	// Plain is set for rules written as a bare string.
	Plain bool `json:"-" yaml:"-"`
}

// Text returns a rule written as a bare string.
func Text(pattern string) Rule {
	return Rule{FilterBy: pattern, Plain: true}
}

type objectRule struct {
	FilterBy      string          `json:"filterBy"`
	Regex         bool            `json:"regex"`
	CaseSensitive bool            `json:"caseSensitive"`
	Until         json.RawMessage `json:"until"`
}

// UnmarshalJSON accepts both the string and the object form. Values of any
// other shape decode to an empty rule that never matches, so one bad entry
// does not reject the whole list.
func (r *Rule) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*r = Rule{}
	if len(data) == 0 {
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = Text(s)
		return nil
	case '{':
		var obj objectRule
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil
		}
		r.FilterBy = obj.FilterBy
		r.Regex = obj.Regex
		r.CaseSensitive = obj.CaseSensitive
		r.Until = rawUntil(obj.Until)
		return nil
	default:
		return nil
	}
}

// MarshalJSON writes plain rules back as bare strings.
func (r Rule) MarshalJSON() ([]byte, error) {
	if r.Plain {
		return json.Marshal(r.FilterBy)
	}
	type alias Rule
	return json.Marshal(alias(r))
}

// UnmarshalYAML mirrors UnmarshalJSON for the config file.
func (r *Rule) UnmarshalYAML(value *yaml.Node) error {
	*r = Rule{}
	switch value.Kind {
	case yaml.ScalarNode:
		*r = Text(value.Value)
	case yaml.MappingNode:
		var obj struct {
			FilterBy      string    `yaml:"filterBy"`
			Regex         bool      `yaml:"regex"`
			CaseSensitive bool      `yaml:"caseSensitive"`
			Until         yaml.Node `yaml:"until"`
		}
		if err := value.Decode(&obj); err != nil {
			return nil
		}
		r.FilterBy = obj.FilterBy
		r.Regex = obj.Regex
		r.CaseSensitive = obj.CaseSensitive
		if obj.Until.Kind == yaml.ScalarNode && obj.Until.Tag != "!!null" {
			r.Until = obj.Until.Value
		}
	}
	return nil
}

// MarshalYAML writes plain rules back as bare strings.
func (r Rule) MarshalYAML() (any, error) {
	if r.Plain {
		return r.FilterBy, nil
	}
	type alias Rule
	return alias(r), nil
}

// rawUntil keeps any non-null until value. Only its presence matters.
func rawUntil(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.Trim(string(raw), `"`)
}
