package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
)

// ErrInvalidValue is returned by SetValue when a value does not fit its key.
var ErrInvalidValue = errors.New("invalid config value")

type keyKind int

const (
	kindString keyKind = iota
	kindInt
	kindFloat
	kindBool
)

func (k keyKind) String() string {
	switch k {
	case kindInt:
		return "an integer"
	case kindFloat:
		return "a number"
	case kindBool:
		return "true or false"
	default:
		return "a string"
	}
}

// keySpec describes one dotted key of the config file.
type keySpec struct {
	kind   keyKind
	secret bool
	check  func(v any) error
}

// knownKeys maps every dotted key of Config to its type and constraint.
var knownKeys = map[string]keySpec{
	"data_dir":               {kind: kindString, check: nonEmpty},
	"log_level":              {kind: kindString, check: oneOf("debug", "info", "warn", "error")},
	"max_concurrent":         {kind: kindInt, check: atLeast(1)},
	"pilot.base_url":         {kind: kindString, check: httpURL},
	"pilot.api_key":          {kind: kindString, secret: true},
	"pilot.poll_interval_ms": {kind: kindInt, check: atLeast(1)},
	"pilot.timeout_seconds":  {kind: kindInt, check: atLeast(1)},
	"pilot.retry_attempts":   {kind: kindInt, check: atLeast(0)},
	"layout.margin":          {kind: kindFloat},
	"layout.row_spacing":     {kind: kindFloat},
	"http.enabled":           {kind: kindBool},
	"http.listen":            {kind: kindString, check: nonEmpty},
	"telegram.token":         {kind: kindString, secret: true},
	"telegram.chat_id":       {kind: kindInt},
}

// IsSecretKey reports whether the dotted key holds a credential.
func IsSecretKey(key string) bool {
	return knownKeys[key].secret
}

// parseValue converts the command-line text for key into the value stored in
// the config file. Known keys are coerced to their type and checked; other
// keys are stored as JSON when the text parses, otherwise as a string.
func parseValue(key, raw string) (any, error) {
	spec, ok := knownKeys[key]
	if !ok {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return raw, nil
		}
		return v, nil
	}

	var v any
	switch spec.kind {
	case kindInt:
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s must be %s, got %q", ErrInvalidValue, key, spec.kind, raw)
		}
		v = n
	case kindFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: %s must be %s, got %q", ErrInvalidValue, key, spec.kind, raw)
		}
		v = f
	case kindBool:
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: %s must be %s, got %q", ErrInvalidValue, key, spec.kind, raw)
		}
		v = b
	default:
		v = raw
	}

	if spec.check != nil {
		if err := spec.check(v); err != nil {
			return nil, fmt.Errorf("%w: %s %v", ErrInvalidValue, key, err)
		}
	}
	return v, nil
}

func nonEmpty(v any) error {
	if strings.TrimSpace(v.(string)) == "" {
		return errors.New("must not be empty")
	}
	return nil
}

func atLeast(min int64) func(any) error {
	return func(v any) error {
		if v.(int64) < min {
			return fmt.Errorf("must be at least %d", min)
		}
		return nil
	}
}

func oneOf(allowed ...string) func(any) error {
	return func(v any) error {
		for _, a := range allowed {
			if v.(string) == a {
				return nil
			}
		}
		return fmt.Errorf("must be one of %s", strings.Join(allowed, ", "))
	}
}

func httpURL(v any) error {
	u, err := url.Parse(v.(string))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("must be an http or https URL")
	}
	return nil
}

// flattenKeys walks the decoded config file and records every leaf under its
// dotted key, e.g. {"pilot": {"base_url": "x"}} gives "pilot.base_url".
func flattenKeys(prefix string, m map[string]any, out map[string]any) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if child, ok := v.(map[string]any); ok {
			flattenKeys(key, child, out)
			continue
		}
		out[key] = v
	}
}

// setKey stores v under the dotted key, creating sections on the way. A key
// that runs through a plain value is an error.
func setKey(m map[string]any, key string, v any) error {
	parts := strings.Split(key, ".")
	current := m
	for i, part := range parts[:len(parts)-1] {
		next, ok := current[part]
		if !ok {
			section := make(map[string]any)
			current[part] = section
			current = section
			continue
		}
		section, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: %s is a value, not a section", ErrInvalidValue, strings.Join(parts[:i+1], "."))
		}
		current = section
	}
	current[parts[len(parts)-1]] = v
	return nil
}

// MaskSecrets returns a copy of the flat values with credentials reduced to
// "***" and their last four characters. Empty credentials stay empty.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		out[k] = v
		s, ok := v.(string)
		if !IsSecretKey(k) || !ok || s == "" {
			continue
		}
		if len(s) > 4 {
			s = s[len(s)-4:]
		}
		out[k] = "***" + s
	}
	return out
}
