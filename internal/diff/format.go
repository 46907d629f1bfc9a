package diff

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Describe renders changes as one line per change:
//
//	+ path: value
//	- path: value
//	~ path: old → new
func Describe(changes []Change) string {
	lines := make([]string, 0, len(changes))
	for _, c := range changes {
		switch c.Type {
		case Added:
			lines = append(lines, fmt.Sprintf("+ %s: %s", c.Path, FormatValue(c.NewValue)))
		case Removed:
			lines = append(lines, fmt.Sprintf("- %s: %s", c.Path, FormatValue(c.OldValue)))
		case Modified:
			lines = append(lines, fmt.Sprintf("~ %s: %s → %s", c.Path, FormatValue(c.OldValue), FormatValue(c.NewValue)))
		}
	}
	return strings.Join(lines, "\n")
}

// FormatValue renders a JSON value for a one-line change description.
func FormatValue(raw []byte) string {
	if len(raw) == 0 {
		return "null"
	}
	v := gjson.ParseBytes(raw)
	switch {
	case v.Type == gjson.Null:
		return "null"
	case v.Type == gjson.String:
		return fmt.Sprintf("%q", truncate(v.Str, 50))
	case v.IsArray():
		return fmt.Sprintf("[%d items]", len(v.Array()))
	case v.IsObject():
		keys, _ := members(v)
		return fmt.Sprintf("{%d fields}", len(keys))
	default:
		return v.Raw
	}
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}

const (
	previewDepth     = 2
	previewStringLen = 100
	previewItems     = 3
	previewKeys      = 5
)

// Preview returns a shortened copy of doc for listing history without
// shipping whole payloads. Long strings are truncated, containers keep only
// their first few entries, and anything nested deeper than two levels
// collapses to a placeholder.
func Preview(doc []byte) []byte {
	if !gjson.ValidBytes(doc) {
		return []byte("null")
	}
	return []byte(preview(gjson.ParseBytes(doc), previewDepth))
}

// preview renders v with depth levels of containers left to expand.
func preview(v gjson.Result, depth int) string {
	switch {
	case v.Type == gjson.String:
		out, _ := sjson.Set("", "v", truncate(v.Str, previewStringLen))
		return gjson.Get(out, "v").Raw
	case v.IsArray():
		items := v.Array()
		if depth <= 0 {
			return quote(fmt.Sprintf("[%d items]", len(items)))
		}
		out := "[]"
		for i, el := range items {
			if i >= previewItems {
				break
			}
			out, _ = sjson.SetRaw(out, "-1", preview(el, depth-1))
		}
		return out
	case v.IsObject():
		if depth <= 0 {
			return quote("{...}")
		}
		// Written by hand: sjson has no path for the empty key.
		keys, vals := members(v)
		var b strings.Builder
		b.WriteByte('{')
		for i, k := range keys {
			if i == previewKeys {
				break
			}
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(quote(k))
			b.WriteByte(':')
			b.WriteString(preview(vals[k], depth-1))
		}
		if len(keys) > previewKeys {
			b.WriteString(`,"...":`)
			b.WriteString(quote(fmt.Sprintf("+%d more", len(keys)-previewKeys)))
		}
		b.WriteByte('}')
		return b.String()
	default:
		return v.Raw
	}
}

func quote(s string) string {
	out, _ := sjson.Set("", "v", s)
	return gjson.Get(out, "v").Raw
}
