package config

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// decoder consumes a raw KEY=VALUE map with typed accessors. Each accessor
// records the key as seen (for unknown-key reporting) and accumulates parse
// failures instead of aborting, so one Load reports every bad value at once.
type decoder struct {
	raw  map[string]string
	seen map[string]bool
	errs []error
}

func newDecoder(raw map[string]string) *decoder {
	return &decoder{
		raw:  raw,
		seen: make(map[string]bool, len(raw)),
	}
}

// str returns the trimmed value for key, or fallback when absent or blank.
func (d *decoder) str(key, fallback string) string {
	v, ok := d.lookup(key)
	if !ok || v == "" {
		return fallback
	}
	return v
}

// boolean accepts true|false|1|0|yes|no, case-insensitively.
func (d *decoder) boolean(key string, fallback bool) bool {
	v, ok := d.lookup(key)
	if !ok || v == "" {
		return fallback
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		d.errs = append(d.errs, fmt.Errorf("%s: invalid boolean %q (want true|false|1|0|yes|no)", key, v))
		return fallback
	}
}

func (d *decoder) integer(key string, fallback int) int {
	v, ok := d.lookup(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		d.errs = append(d.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return fallback
	}
	return n
}

func (d *decoder) float(key string, fallback float64) float64 {
	v, ok := d.lookup(key)
	if !ok || v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		d.errs = append(d.errs, fmt.Errorf("%s: invalid number %q", key, v))
		return fallback
	}
	return f
}

// seconds parses an integer number of seconds into a Duration. All duration
// keys in the file format are plain second counts.
func (d *decoder) seconds(key string, fallback time.Duration) time.Duration {
	v, ok := d.lookup(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		d.errs = append(d.errs, fmt.Errorf("%s: invalid seconds value %q", key, v))
		return fallback
	}
	return time.Duration(n) * time.Second
}

// enum returns the lowercased value when it is one of allowed.
func (d *decoder) enum(key, fallback string, allowed ...string) string {
	v, ok := d.lookup(key)
	if !ok || v == "" {
		return fallback
	}
	v = strings.ToLower(v)
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	d.errs = append(d.errs, fmt.Errorf("%s: invalid value %q (want one of %s)", key, v, strings.Join(allowed, "|")))
	return fallback
}

// list splits a comma-separated value, trimming whitespace and dropping
// empty elements.
func (d *decoder) list(key string) []string {
	v, ok := d.lookup(key)
	if !ok || v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (d *decoder) lookup(key string) (string, bool) {
	d.seen[key] = true
	v, ok := d.raw[key]
	return strings.TrimSpace(v), ok
}

// unknownKeys lists file keys never consumed by a typed accessor, sorted
// for stable log output.
func (d *decoder) unknownKeys() []string {
	var out []string
	for k := range d.raw {
		if !d.seen[k] {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// err folds accumulated parse failures into a single ErrConfig-wrapped error.
func (d *decoder) err() error {
	if len(d.errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrConfig, errors.Join(d.errs...))
}
