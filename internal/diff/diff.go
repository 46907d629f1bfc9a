// Package diff computes field-level changes between two JSON documents.
//
// Documents are walked in key order as written. Arrays are compared by
// index, so inserting an element in the middle of a list shows up as a run
// of modified entries followed by one added entry at the tail. A subtree
// present on only one side is reported once at its root path.
package diff

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
)

// ChangeType classifies a single change.
type ChangeType string

const (
	Added    ChangeType = "added"
	Removed  ChangeType = "removed"
	Modified ChangeType = "modified"
)

// RootPath is the path reported when the documents themselves are scalars.
const RootPath = "root"

// Change is one field-level difference. OldValue is unset for Added and
// NewValue is unset for Removed.
type Change struct {
	Type     ChangeType      `json:"type"`
	Path     string          `json:"path"`
	OldValue json.RawMessage `json:"oldValue,omitempty"`
	NewValue json.RawMessage `json:"newValue,omitempty"`
}

// Summary counts changes by type.
type Summary struct {
	AddedCount    int `json:"addedCount"`
	RemovedCount  int `json:"removedCount"`
	ModifiedCount int `json:"modifiedCount"`
}

// Total returns the number of changes summarized.
func (s Summary) Total() int {
	return s.AddedCount + s.RemovedCount + s.ModifiedCount
}

// Summarize counts changes by type.
func Summarize(changes []Change) Summary {
	var s Summary
	for _, c := range changes {
		switch c.Type {
		case Added:
			s.AddedCount++
		case Removed:
			s.RemovedCount++
		case Modified:
			s.ModifiedCount++
		}
	}
	return s
}

// Compare returns the changes that turn oldDoc into newDoc. Added and
// modified paths come first in newDoc order, then removed paths in oldDoc
// order. Equal documents yield an empty, non-nil slice.
func Compare(oldDoc, newDoc []byte) ([]Change, error) {
	if !gjson.ValidBytes(oldDoc) {
		return nil, eris.New("diff: old document is not valid JSON")
	}
	if !gjson.ValidBytes(newDoc) {
		return nil, eris.New("diff: new document is not valid JSON")
	}

	o := gjson.ParseBytes(oldDoc)
	n := gjson.ParseBytes(newDoc)

	changes := []Change{}
	walkNew(o, n, "", &changes)
	walkOld(o, n, "", &changes)
	return changes, nil
}

// walkNew emits added and modified changes in the new document's order.
func walkNew(o, n gjson.Result, path string, out *[]Change) {
	switch {
	case o.IsObject() && n.IsObject():
		oldFields := fields(o)
		keys, newFields := members(n)
		for _, k := range keys {
			nv := newFields[k]
			child := keyPath(path, k)
			if ov, ok := oldFields[k]; ok {
				walkNew(ov, nv, child, out)
			} else {
				*out = append(*out, Change{Type: Added, Path: child, NewValue: raw(nv)})
			}
		}
	case o.IsArray() && n.IsArray():
		oldItems := o.Array()
		for i, nv := range n.Array() {
			child := indexPath(path, i)
			if i < len(oldItems) {
				walkNew(oldItems[i], nv, child, out)
			} else {
				*out = append(*out, Change{Type: Added, Path: child, NewValue: raw(nv)})
			}
		}
	default:
		if !Equal(o, n) {
			*out = append(*out, Change{
				Type:     Modified,
				Path:     orRoot(path),
				OldValue: raw(o),
				NewValue: raw(n),
			})
		}
	}
}

// walkOld emits removed changes in the old document's order. It only
// descends where both sides hold the same container kind; everything else
// was already reported by walkNew.
func walkOld(o, n gjson.Result, path string, out *[]Change) {
	switch {
	case o.IsObject() && n.IsObject():
		newFields := fields(n)
		keys, oldFields := members(o)
		for _, k := range keys {
			ov := oldFields[k]
			child := keyPath(path, k)
			if nv, ok := newFields[k]; ok {
				walkOld(ov, nv, child, out)
			} else {
				*out = append(*out, Change{Type: Removed, Path: child, OldValue: raw(ov)})
			}
		}
	case o.IsArray() && n.IsArray():
		newItems := n.Array()
		for i, ov := range o.Array() {
			child := indexPath(path, i)
			if i < len(newItems) {
				walkOld(ov, newItems[i], child, out)
			} else {
				*out = append(*out, Change{Type: Removed, Path: child, OldValue: raw(ov)})
			}
		}
	}
}

// Equal reports deep value equality. Numbers compare numerically, strings
// exactly, and values of different JSON types are never equal.
func Equal(a, b gjson.Result) bool {
	switch {
	case a.IsObject() && b.IsObject():
		af, bf := fields(a), fields(b)
		if len(af) != len(bf) {
			return false
		}
		for k, av := range af {
			bv, ok := bf[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	case a.IsArray() && b.IsArray():
		ai, bi := a.Array(), b.Array()
		if len(ai) != len(bi) {
			return false
		}
		for i := range ai {
			if !Equal(ai[i], bi[i]) {
				return false
			}
		}
		return true
	case a.IsObject(), a.IsArray(), b.IsObject(), b.IsArray():
		return false
	}

	if a.Type != b.Type {
		return false
	}
	switch a.Type {
	case gjson.Number:
		return a.Num == b.Num
	case gjson.String:
		return a.Str == b.Str
	default:
		return true
	}
}

func fields(obj gjson.Result) map[string]gjson.Result {
	_, m := members(obj)
	return m
}

// members returns the keys of obj in first-seen order and their values. A
// repeated key takes the value of its last occurrence, as JSON.parse does.
func members(obj gjson.Result) ([]string, map[string]gjson.Result) {
	var keys []string
	m := make(map[string]gjson.Result)
	obj.ForEach(func(k, v gjson.Result) bool {
		key := k.String()
		if _, seen := m[key]; !seen {
			keys = append(keys, key)
		}
		m[key] = v
		return true
	})
	return keys, m
}

// keyPath joins key onto prefix with a dot. Keys that are empty or hold path
// syntax are written as a quoted index instead: a["b.c"].
func keyPath(prefix, key string) string {
	if key == "" || strings.ContainsAny(key, `.[]"`) {
		return prefix + "[" + strconv.Quote(key) + "]"
	}
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func indexPath(prefix string, i int) string {
	return prefix + "[" + strconv.Itoa(i) + "]"
}

func orRoot(path string) string {
	if path == "" {
		return RootPath
	}
	return path
}

// raw returns the compact JSON text of v.
func raw(v gjson.Result) json.RawMessage {
	if !v.Exists() {
		return json.RawMessage("null")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(v.Raw)); err != nil {
		return json.RawMessage(v.Raw)
	}
	return buf.Bytes()
}

// Reverse returns the changes that turn newDoc back into oldDoc, derived
// from changes without re-walking the documents.
func Reverse(changes []Change) []Change {
	out := make([]Change, 0, len(changes))
	for _, c := range changes {
		switch c.Type {
		case Added:
			out = append(out, Change{Type: Removed, Path: c.Path, OldValue: c.NewValue})
		case Removed:
			out = append(out, Change{Type: Added, Path: c.Path, NewValue: c.OldValue})
		case Modified:
			out = append(out, Change{Type: Modified, Path: c.Path, OldValue: c.NewValue, NewValue: c.OldValue})
		default:
			panic(fmt.Sprintf("diff: unknown change type %q", c.Type))
		}
	}
	return out
}
