package query

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kgraph/backend/pkg/apperr"
)

// Filters are the optional per-kind constraints of a query. Values keep the
// loose shapes JSON decoding produces; the typed getters validate them.
type Filters map[string]any

// ParseFilters accepts nil, a Filters value or any string-keyed map. Anything
// else is an InvalidArgument.
func ParseFilters(raw any) (Filters, error) {
	switch v := raw.(type) {
	case nil:
		return Filters{}, nil
	case Filters:
		return v, nil
	case map[string]any:
		return Filters(v), nil
	case map[string]string:
		out := make(Filters, len(v))
		for k, s := range v {
			out[k] = s
		}
		return out, nil
	case json.RawMessage:
		if len(v) == 0 || string(v) == "null" {
			return Filters{}, nil
		}
		var m map[string]any
		if err := json.Unmarshal(v, &m); err != nil {
			return nil, apperr.InvalidArgument("filters must be a JSON object")
		}
		return Filters(m), nil
	default:
		return nil, apperr.InvalidArgument("filters must be an object, got %T", raw)
	}
}

// key renders the filters deterministically for cache keys.
func (f Filters) key() string {
	if len(f) == 0 {
		return "{}"
	}
	b, err := json.Marshal(map[string]any(f))
	if err != nil {
		return fmt.Sprintf("%v", map[string]any(f))
	}
	return string(b)
}

func (f Filters) String(name string) (string, bool, error) {
	v, ok := f[name]
	if !ok || v == nil {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", false, apperr.InvalidArgument("filter %s must be a string, got %T", name, v)
	}
	if s == "" {
		return "", false, nil
	}
	return s, true, nil
}

func (f Filters) Float(name string) (float64, bool, error) {
	v, ok := f[name]
	if !ok || v == nil {
		return 0, false, nil
	}
	switch n := v.(type) {
	case float64:
		return n, true, nil
	case float32:
		return float64(n), true, nil
	case int:
		return float64(n), true, nil
	case int64:
		return float64(n), true, nil
	case json.Number:
		x, err := n.Float64()
		if err != nil {
			return 0, false, apperr.InvalidArgument("filter %s must be a number", name)
		}
		return x, true, nil
	case string:
		x, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false, apperr.InvalidArgument("filter %s must be a number, got %q", name, n)
		}
		return x, true, nil
	}
	return 0, false, apperr.InvalidArgument("filter %s must be a number, got %T", name, v)
}

func (f Filters) Int(name string) (int, bool, error) {
	x, ok, err := f.Float(name)
	if err != nil || !ok {
		return 0, ok, err
	}
	return int(x), true, nil
}

// Strings accepts a single string or a list of strings.
func (f Filters) Strings(name string) ([]string, error) {
	v, ok := f[name]
	if !ok || v == nil {
		return nil, nil
	}
	switch s := v.(type) {
	case string:
		if s == "" {
			return nil, nil
		}
		return []string{s}, nil
	case []string:
		return s, nil
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, apperr.InvalidArgument("filter %s must contain strings, got %T", name, item)
			}
			out = append(out, str)
		}
		return out, nil
	}
	return nil, apperr.InvalidArgument("filter %s must be a string list, got %T", name, v)
}

func (f Filters) StringSet(name string) (map[string]bool, error) {
	list, err := f.Strings(name)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	set := make(map[string]bool, len(list))
	for _, s := range list {
		set[s] = true
	}
	return set, nil
}

// Time accepts RFC 3339 timestamps and plain dates.
func (f Filters) Time(name string) (time.Time, bool, error) {
	v, ok := f[name]
	if !ok || v == nil {
		return time.Time{}, false, nil
	}
	switch t := v.(type) {
	case time.Time:
		return t, true, nil
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true, nil
			}
		}
		return time.Time{}, false, apperr.InvalidArgument("filter %s must be a date, got %q", name, t)
	}
	return time.Time{}, false, apperr.InvalidArgument("filter %s must be a date, got %T", name, v)
}

// PageRange accepts [min, max], "min-max" or {"min": .., "max": ..}. A zero
// bound is open.
func (f Filters) PageRange(name string) (int, int, bool, error) {
	v, ok := f[name]
	if !ok || v == nil {
		return 0, 0, false, nil
	}

	invalid := apperr.InvalidArgument("filter %s must be a page range", name)
	var lo, hi int
	switch r := v.(type) {
	case []int:
		if len(r) != 2 {
			return 0, 0, false, invalid
		}
		lo, hi = r[0], r[1]
	case []any:
		if len(r) != 2 {
			return 0, 0, false, invalid
		}
		bounds := Filters{"min": r[0], "max": r[1]}
		a, _, err1 := bounds.Int("min")
		b, _, err2 := bounds.Int("max")
		if err1 != nil || err2 != nil {
			return 0, 0, false, invalid
		}
		lo, hi = a, b
	case string:
		parts := strings.SplitN(r, "-", 2)
		if len(parts) != 2 {
			return 0, 0, false, invalid
		}
		a, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
		b, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err1 != nil || err2 != nil {
			return 0, 0, false, invalid
		}
		lo, hi = a, b
	case map[string]any:
		bounds := Filters(r)
		a, _, err1 := bounds.Int("min")
		b, _, err2 := bounds.Int("max")
		if err1 != nil || err2 != nil {
			return 0, 0, false, invalid
		}
		lo, hi = a, b
	default:
		return 0, 0, false, invalid
	}

	if lo < 0 || hi < 0 || (hi > 0 && lo > hi) {
		return 0, 0, false, invalid
	}
	return lo, hi, true, nil
}
