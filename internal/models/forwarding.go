package models

import (
	"strings"
	"unicode"
)

// ForwardingConfig holds the persisted forwarding rules
type ForwardingConfig struct {
	Enabled          bool     `json:"enabled"`
	Destinations     []string `json:"destinations"`
	SourceChannels   []string `json:"sourceChannels"`
	MessageTemplate  *string  `json:"messageTemplate"`
	AppendTimestamp  bool     `json:"appendTimestamp"`
	AppendSourceName bool     `json:"appendSourceName"`
}

// DefaultForwardingConfig returns the configuration used when nothing has been persisted yet
func DefaultForwardingConfig() ForwardingConfig {
	return ForwardingConfig{
		Enabled:          true,
		Destinations:     []string{},
		SourceChannels:   []string{},
		AppendTimestamp:  false,
		AppendSourceName: true,
	}
}

// ConfigPatch is a partial ForwardingConfig. Nil fields keep their prior value.
type ConfigPatch struct {
	Enabled          *bool     `json:"enabled,omitempty"`
	Destinations     *[]string `json:"destinations,omitempty"`
	SourceChannels   *[]string `json:"sourceChannels,omitempty"`
	MessageTemplate  *string   `json:"messageTemplate,omitempty"`
	AppendTimestamp  *bool     `json:"appendTimestamp,omitempty"`
	AppendSourceName *bool     `json:"appendSourceName,omitempty"`
}

// IsEmpty reports whether the patch changes nothing
func (p ConfigPatch) IsEmpty() bool {
	return p.Enabled == nil && p.Destinations == nil && p.SourceChannels == nil &&
		p.MessageTemplate == nil && p.AppendTimestamp == nil && p.AppendSourceName == nil
}

// Apply returns a copy of cfg with the supplied patch fields overwritten.
// An empty MessageTemplate string clears the template.
func (cfg ForwardingConfig) Apply(p ConfigPatch) ForwardingConfig {
	out := cfg.Clone()
	if p.Enabled != nil {
		out.Enabled = *p.Enabled
	}
	if p.Destinations != nil {
		out.Destinations = DedupeDestinations(*p.Destinations)
	}
	if p.SourceChannels != nil {
		out.SourceChannels = dedupeStrings(*p.SourceChannels)
	}
	if p.MessageTemplate != nil {
		if *p.MessageTemplate == "" {
			out.MessageTemplate = nil
		} else {
			tmpl := *p.MessageTemplate
			out.MessageTemplate = &tmpl
		}
	}
	if p.AppendTimestamp != nil {
		out.AppendTimestamp = *p.AppendTimestamp
	}
	if p.AppendSourceName != nil {
		out.AppendSourceName = *p.AppendSourceName
	}
	return out
}

// Clone returns a deep copy so callers never share slices with engine state
func (cfg ForwardingConfig) Clone() ForwardingConfig {
	out := cfg
	out.Destinations = append([]string{}, cfg.Destinations...)
	out.SourceChannels = append([]string{}, cfg.SourceChannels...)
	if cfg.MessageTemplate != nil {
		tmpl := *cfg.MessageTemplate
		out.MessageTemplate = &tmpl
	}
	return out
}

// Normalized returns the config with destinations and channels deduplicated
// and nil slices replaced by empty ones.
func (cfg ForwardingConfig) Normalized() ForwardingConfig {
	out := cfg.Clone()
	out.Destinations = DedupeDestinations(out.Destinations)
	out.SourceChannels = dedupeStrings(out.SourceChannels)
	if out.MessageTemplate != nil && *out.MessageTemplate == "" {
		out.MessageTemplate = nil
	}
	return out
}

// AcceptsChannel reports whether a message from the given channel should be
// forwarded. An empty SourceChannels list accepts every channel.
func (cfg ForwardingConfig) AcceptsChannel(name, id string) bool {
	if len(cfg.SourceChannels) == 0 {
		return true
	}
	for _, ch := range cfg.SourceChannels {
		ch = strings.TrimSpace(ch)
		if ch == "" {
			continue
		}
		if strings.EqualFold(ch, name) || (id != "" && ch == id) {
			return true
		}
	}
	return false
}

// NormalizeDestination strips everything except digits from a destination
func NormalizeDestination(dest string) string {
	var b strings.Builder
	b.Grow(len(dest))
	for _, r := range dest {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DedupeDestinations removes destinations whose normalized form was already
// seen, keeping the first occurrence and the original order.
func DedupeDestinations(dests []string) []string {
	seen := make(map[string]struct{}, len(dests))
	out := make([]string, 0, len(dests))
	for _, d := range dests {
		d = strings.TrimSpace(d)
		key := NormalizeDestination(d)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, d)
	}
	return out
}

func dedupeStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
