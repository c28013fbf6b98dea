package config

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ApplyOverrides walks a dotted-key map (e.g. "research.max_total_tasks" →
// "50") against cfg, coercing each string value to the declared type of the
// addressed field (bool/int/float64/string/time.Duration/[]string) based on
// that field's zero-value type in the struct — exactly the coercion-by-
// defaults-type scheme spec §6 describes. An unresolvable dotted path is an
// error, never silently ignored.
func ApplyOverrides(cfg *Config, overrides map[string]string) error {
	// Deterministic order keeps error reporting predictable in tests.
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := applyOverride(cfg, k, overrides[k]); err != nil {
			return fmt.Errorf("override %q: %w", k, err)
		}
	}
	return nil
}

// ApplyPreset applies a named preset's overrides, then any caller-supplied
// dotted overrides, in that order (defaults < preset < explicit overrides).
func ApplyPreset(cfg *Config, presetName string, overrides map[string]string) error {
	if presetName != "" {
		p, ok := Presets()[presetName]
		if !ok {
			return fmt.Errorf("unknown preset %q", presetName)
		}
		if err := ApplyOverrides(cfg, p.Overrides); err != nil {
			return fmt.Errorf("preset %q: %w", presetName, err)
		}
	}
	return ApplyOverrides(cfg, overrides)
}

func applyOverride(cfg *Config, dottedKey, value string) error {
	parts := strings.Split(dottedKey, ".")
	if len(parts) < 2 {
		return fmt.Errorf("expected a dotted path like section.field")
	}

	v := reflect.ValueOf(cfg).Elem()
	for i, part := range parts {
		field, ok := fieldByYAMLTag(v, part)
		if !ok {
			return fmt.Errorf("no such field %q", strings.Join(parts[:i+1], "."))
		}
		isLast := i == len(parts)-1
		if isLast {
			return setCoerced(field, value)
		}
		if field.Kind() != reflect.Struct {
			return fmt.Errorf("%q is not a section", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return nil
}

// fieldByYAMLTag finds the struct field whose `yaml:"..."` tag (ignoring
// options after a comma) matches name.
func fieldByYAMLTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("yaml")
		tag = strings.Split(tag, ",")[0]
		if tag == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func setCoerced(field reflect.Value, raw string) error {
	if field.Type() == reflect.TypeOf(time.Duration(0)) {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid bool %q: %w", raw, err)
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid int %q: %w", raw, err)
		}
		field.SetInt(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("invalid float %q: %w", raw, err)
		}
		field.SetFloat(f)
	case reflect.String:
		field.SetString(raw)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice element type %s", field.Type().Elem())
		}
		parts := strings.Split(raw, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		field.Set(reflect.ValueOf(parts))
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}
