package provider

import (
	"fmt"
	"strings"
	"time"

	domainErrors "csharp-provider/internal/core/errors"
)

// Keys of provider_specific_config.
const (
	KeyILSpyCmd    = "ilspy_cmd"
	KeyPaketCmd    = "paket_cmd"
	KeyToolTimeout = "tool_timeout"
	KeyReinit      = "reinit"
)

// ParseProviderConfig reads provider_specific_config. Unknown keys are
// ignored; known keys with the wrong type are an invalid-config error.
// tool_timeout accepts a duration string ("90s") or a number of seconds.
func ParseProviderConfig(raw map[string]any) (ProviderConfig, error) {
	var cfg ProviderConfig
	var err error

	if cfg.ILSpyCmd, err = stringValue(raw, KeyILSpyCmd); err != nil {
		return cfg, err
	}
	if cfg.PaketCmd, err = stringValue(raw, KeyPaketCmd); err != nil {
		return cfg, err
	}

	switch v := raw[KeyToolTimeout].(type) {
	case nil:
	case string:
		if strings.TrimSpace(v) != "" {
			d, perr := time.ParseDuration(strings.TrimSpace(v))
			if perr != nil {
				return cfg, invalidKey(KeyToolTimeout, perr.Error())
			}
			cfg.ToolTimeout = d
		}
	case float64:
		cfg.ToolTimeout = time.Duration(v * float64(time.Second))
	case int:
		cfg.ToolTimeout = time.Duration(v) * time.Second
	case int64:
		cfg.ToolTimeout = time.Duration(v) * time.Second
	default:
		return cfg, invalidKey(KeyToolTimeout, fmt.Sprintf("expected duration, got %T", v))
	}
	if cfg.ToolTimeout < 0 {
		return cfg, invalidKey(KeyToolTimeout, "must not be negative")
	}

	switch v := raw[KeyReinit].(type) {
	case nil:
	case bool:
		cfg.Reinit = v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes":
			cfg.Reinit = true
		case "", "false", "0", "no":
		default:
			return cfg, invalidKey(KeyReinit, fmt.Sprintf("expected boolean, got %q", v))
		}
	default:
		return cfg, invalidKey(KeyReinit, fmt.Sprintf("expected boolean, got %T", v))
	}
	return cfg, nil
}

func stringValue(raw map[string]any, key string) (string, error) {
	switch v := raw[key].(type) {
	case nil:
		return "", nil
	case string:
		return strings.TrimSpace(v), nil
	default:
		return "", invalidKey(key, fmt.Sprintf("expected string, got %T", v))
	}
}

func invalidKey(key, reason string) error {
	return domainErrors.Newf(domainErrors.CodeInvalidConfig, "provider_specific_config.%s: %s", key, reason)
}
