package sanitize

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"reflect"
	"sort"
	"time"
	"unicode/utf8"
)

const (
	RedactedPlaceholder = "[REDACTED]"
	MaxDepthMarker      = "[Max Depth Reached]"
	CircularMarker      = "[Circular Reference]"
	FilteredMarker      = "[Filtered]"
	ErrorPlaceholder    = "[Serialization Error]"
	TruncatedSuffix     = "...[truncated]"
	NaNMarker           = "[NaN]"
	InfinityMarker      = "[Infinity]"
	NegInfinityMarker   = "[-Infinity]"
)

// Limits bound the shape of a sanitized value.
type Limits struct {
	MaxDepth     int
	MaxKeys      int
	MaxItems     int
	MaxStringLen int
}

// DefaultLimits matches what the message log stores for metadata.
var DefaultLimits = Limits{MaxDepth: 3, MaxKeys: 20, MaxItems: 10, MaxStringLen: 500}

// Sanitizer turns arbitrary values into bounded, JSON-friendly trees of
// maps, slices and scalars, redacting configured field names on the way.
type Sanitizer struct {
	fieldsToRedact map[string]struct{}
	limits         Limits
	logger         *slog.Logger
}

// NewSanitizer creates a Sanitizer that redacts the given field names.
func NewSanitizer(fields []string, logger *slog.Logger) *Sanitizer {
	fieldSet := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		if field != "" {
			fieldSet[field] = struct{}{}
		}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Sanitizer{
		fieldsToRedact: fieldSet,
		limits:         DefaultLimits,
		logger:         logger,
	}
}

// WithLimits returns a copy of s using l.
func (s *Sanitizer) WithLimits(l Limits) *Sanitizer {
	c := *s
	c.limits = l
	return &c
}

// String truncates v to the configured string limit.
func (s *Sanitizer) String(v string) string {
	if len(v) > s.limits.MaxStringLen {
		return Truncate(v, s.limits.MaxStringLen) + TruncatedSuffix
	}
	return v
}

// Truncate returns the longest prefix of v that is at most n bytes and does
// not split a rune.
func Truncate(v string, n int) string {
	if len(v) <= n {
		return v
	}
	if n <= 0 {
		return ""
	}
	for n > 0 && !utf8.RuneStart(v[n]) {
		n--
	}
	return v[:n]
}

// Sanitize returns a bounded copy of v. It never panics; a value that cannot
// be walked collapses to ErrorPlaceholder.
func (s *Sanitizer) Sanitize(v any) (out any) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("failed to sanitize value", "error", fmt.Sprint(r), "type", fmt.Sprintf("%T", v))
			out = ErrorPlaceholder
		}
	}()
	if v == nil {
		return nil
	}
	w := walker{s: s, seen: make(map[uintptr]struct{})}
	return w.walk(reflect.ValueOf(v), 0)
}

type walker struct {
	s    *Sanitizer
	seen map[uintptr]struct{}
}

var (
	errorType = reflect.TypeOf((*error)(nil)).Elem()
	timeType  = reflect.TypeOf(time.Time{})
)

func (w *walker) walk(v reflect.Value, depth int) any {
	if !v.IsValid() {
		return nil
	}
	if depth > w.s.limits.MaxDepth {
		return MaxDepthMarker
	}

	if v.Type() == timeType {
		return v.Interface().(time.Time).Format(time.RFC3339Nano)
	}
	if v.Kind() != reflect.Interface && v.Type().Implements(errorType) && v.CanInterface() {
		if v.Kind() == reflect.Pointer && v.IsNil() {
			return nil
		}
		return w.s.String(v.Interface().(error).Error())
	}

	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return w.walk(v.Elem(), depth)

	case reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		ptr := v.Pointer()
		if _, ok := w.seen[ptr]; ok {
			return CircularMarker
		}
		w.seen[ptr] = struct{}{}
		defer delete(w.seen, ptr)
		return w.walk(v.Elem(), depth)

	case reflect.String:
		return w.s.String(v.String())

	case reflect.Bool:
		return v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint()
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		switch {
		case math.IsNaN(f):
			return NaNMarker
		case math.IsInf(f, 1):
			return InfinityMarker
		case math.IsInf(f, -1):
			return NegInfinityMarker
		}
		return f

	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return FilteredMarker

	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice {
			if v.IsNil() {
				return nil
			}
			if v.Type().Elem().Kind() == reflect.Uint8 {
				return fmt.Sprintf("[Binary: %d bytes]", v.Len())
			}
			ptr := v.Pointer()
			if _, ok := w.seen[ptr]; ok && v.Len() > 0 {
				return CircularMarker
			}
			w.seen[ptr] = struct{}{}
			defer delete(w.seen, ptr)
		}
		n := v.Len()
		if n > w.s.limits.MaxItems {
			n = w.s.limits.MaxItems
		}
		items := make([]any, 0, n)
		for i := 0; i < n; i++ {
			items = append(items, w.walk(v.Index(i), depth+1))
		}
		return items

	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		ptr := v.Pointer()
		if _, ok := w.seen[ptr]; ok {
			return CircularMarker
		}
		w.seen[ptr] = struct{}{}
		defer delete(w.seen, ptr)

		keys := v.MapKeys()
		names := make([]string, len(keys))
		byName := make(map[string]reflect.Value, len(keys))
		for i, k := range keys {
			names[i] = fmt.Sprint(k.Interface())
			byName[names[i]] = v.MapIndex(k)
		}
		sort.Strings(names)
		return w.object(names, func(name string) reflect.Value { return byName[name] }, depth)

	case reflect.Struct:
		t := v.Type()
		var names []string
		fields := make(map[string]reflect.Value)
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			name := jsonName(f)
			if name == "-" {
				continue
			}
			names = append(names, name)
			fields[name] = v.Field(i)
		}
		return w.object(names, func(name string) reflect.Value { return fields[name] }, depth)
	}

	return fmt.Sprintf("[%s]", v.Kind())
}

func (w *walker) object(names []string, get func(string) reflect.Value, depth int) map[string]any {
	out := make(map[string]any, min(len(names), w.s.limits.MaxKeys)+1)
	for i, name := range names {
		if i >= w.s.limits.MaxKeys {
			out["..."] = fmt.Sprintf("[%d more keys]", len(names)-w.s.limits.MaxKeys)
			break
		}
		if _, redact := w.s.fieldsToRedact[name]; redact {
			out[name] = RedactedPlaceholder
			continue
		}
		out[name] = w.walk(get(name), depth+1)
	}
	return out
}

func jsonName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	if tag == "" {
		return f.Name
	}
	for i := 0; i < len(tag); i++ {
		if tag[i] == ',' {
			tag = tag[:i]
			break
		}
	}
	if tag == "" {
		return f.Name
	}
	return tag
}
