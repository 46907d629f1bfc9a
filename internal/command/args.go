package command

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/sells-group/research-kb/internal/apperr"
)

// Args is the JSON object a command runs with.
type Args struct {
	raw []byte
}

// Empty returns Args with no keys.
func Empty() Args {
	return Args{raw: []byte("{}")}
}

// FromJSON wraps raw, which must be a JSON object. Empty input yields Empty.
func FromJSON(raw []byte) (Args, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return Empty(), nil
	}
	if !gjson.ValidBytes(raw) || !gjson.ParseBytes(raw).IsObject() {
		return Args{}, apperr.Validation("arguments must be a JSON object")
	}
	return Args{raw: raw}, nil
}

// FromMap encodes m as Args.
func FromMap(m map[string]any) (Args, error) {
	if m == nil {
		return Empty(), nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return Args{}, apperr.Validationf("encode arguments: %v", err)
	}
	return Args{raw: raw}, nil
}

// Parse builds Args from command-line words: either one JSON object, or
// key=value pairs. Pair values that parse as JSON keep their type; anything
// else is a string. Dotted keys set nested fields.
func Parse(words []string) (Args, error) {
	if len(words) == 0 {
		return Empty(), nil
	}
	if len(words) == 1 && strings.HasPrefix(strings.TrimSpace(words[0]), "{") {
		return FromJSON([]byte(words[0]))
	}

	raw := []byte("{}")
	for _, w := range words {
		key, val, ok := strings.Cut(w, "=")
		if !ok || key == "" {
			return Args{}, apperr.Validationf("argument %q is not key=value", w)
		}
		var err error
		if gjson.Valid(val) && val != "" {
			raw, err = sjson.SetRawBytes(raw, key, []byte(val))
		} else {
			raw, err = sjson.SetBytes(raw, key, val)
		}
		if err != nil {
			return Args{}, apperr.Validationf("argument %q: %v", key, err)
		}
	}
	return Args{raw: raw}, nil
}

// JSON returns the encoded object.
func (a Args) JSON() json.RawMessage {
	if a.raw == nil {
		return json.RawMessage("{}")
	}
	return a.raw
}

// Decode unmarshals the arguments into v.
func (a Args) Decode(v any) error {
	if err := json.Unmarshal(a.JSON(), v); err != nil {
		return apperr.Validationf("invalid arguments: %v", err)
	}
	return nil
}

func (a Args) get(key string) gjson.Result {
	return gjson.GetBytes(a.JSON(), key)
}

// Has reports whether key is present.
func (a Args) Has(key string) bool {
	return a.get(key).Exists()
}

// String returns key as a string, or "".
func (a Args) String(key string) string {
	return a.get(key).String()
}

// Int returns key as an int, or 0.
func (a Args) Int(key string) int {
	return int(a.get(key).Int())
}

// Bool returns key as a bool when present.
func (a Args) Bool(key string) *bool {
	v := a.get(key)
	if !v.Exists() {
		return nil
	}
	b := v.Bool()
	return &b
}

// Require fails when any key is missing or empty.
func (a Args) Require(keys ...string) error {
	for _, k := range keys {
		if strings.TrimSpace(a.String(k)) == "" {
			return apperr.Validationf("%s is required", k)
		}
	}
	return nil
}
