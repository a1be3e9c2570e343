package config

import (
	"errors"
	"fmt"

	"github.com/pilot-net/alert-relay/internal/types"
)

// ErrInvalidConfig is wrapped by every validation failure Validate
// returns, so callers (the push-config handler in particular) can
// distinguish "bad input" from a persistence error.
var ErrInvalidConfig = errors.New("config: invalid")

// Validate type-checks raw decoded config (from YAML or a JSON request
// body) into a types.Config. The input must be an object keyed by rule
// name; each entry must be itself an object carrying a non-empty string
// channelId. Optional fields are carried through when present and
// correctly typed; mentions is filtered down to its string elements,
// dropping anything else rather than failing the whole entry.
func Validate(raw any) (types.Config, error) {
	top, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: top-level config must be an object", ErrInvalidConfig)
	}

	cfg := make(types.Config, len(top))
	for ruleName, v := range top {
		entry, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: rule %q must be an object", ErrInvalidConfig, ruleName)
		}

		channelID, ok := stringField(entry, "channelId")
		if !ok || channelID == "" {
			return nil, fmt.Errorf("%w: rule %q missing string channelId", ErrInvalidConfig, ruleName)
		}

		rule := types.RuleConfig{ChannelID: channelID}
		if n, ok := intField(entry, "suppressWindowMs"); ok {
			rule.SuppressWindowMs = n
		}
		if s, ok := stringField(entry, "thumbnailUrl"); ok {
			rule.ThumbnailURL = s
		}
		rule.ImportantLabels = stringSliceField(entry, "importantLabels")
		rule.HiddenLabels = stringSliceField(entry, "hiddenLabels")
		rule.Mentions = stringSliceField(entry, "mentions")

		cfg[ruleName] = rule
	}
	return cfg, nil
}

func stringField(m map[string]any, key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func intField(m map[string]any, key string) (int, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// stringSliceField filters a decoded list field down to its string
// elements, per spec: non-string entries are dropped rather than
// failing validation.
func stringSliceField(m map[string]any, key string) []string {
	v, ok := m[key]
	if !ok {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
