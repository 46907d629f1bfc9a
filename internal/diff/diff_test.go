package diff

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func mustCompare(t *testing.T, oldDoc, newDoc string) []Change {
	t.Helper()
	changes, err := Compare([]byte(oldDoc), []byte(newDoc))
	require.NoError(t, err)
	return changes
}

func rawJSON(s string) json.RawMessage { return json.RawMessage(s) }

func TestCompare_Identical(t *testing.T) {
	doc := `{"tiers":[{"name":"Pro","price":29}],"hasFreeTier":true,"note":null}`
	changes := mustCompare(t, doc, doc)
	assert.NotNil(t, changes)
	assert.Empty(t, changes)
}

func TestCompare_KeyOrderIgnored(t *testing.T) {
	changes := mustCompare(t, `{"a":1,"b":{"x":1,"y":2}}`, `{"b":{"y":2,"x":1},"a":1}`)
	assert.Empty(t, changes)
}

func TestCompare_AddedAndRemoved(t *testing.T) {
	changes := mustCompare(t, `{"a":1}`, `{"a":1,"b":2}`)
	want := []Change{{Type: Added, Path: "b", NewValue: rawJSON(`2`)}}
	if diff := cmp.Diff(want, changes); diff != "" {
		t.Errorf("added mismatch (-want +got):\n%s", diff)
	}

	changes = mustCompare(t, `{"a":1,"b":2}`, `{"a":1}`)
	want = []Change{{Type: Removed, Path: "b", OldValue: rawJSON(`2`)}}
	if diff := cmp.Diff(want, changes); diff != "" {
		t.Errorf("removed mismatch (-want +got):\n%s", diff)
	}
}

func TestCompare_PricingTierChange(t *testing.T) {
	oldDoc := `{"tiers":[{"name":"Free","price":0},{"name":"Pro","price":29}],"hasFreeTier":true}`
	newDoc := `{"tiers":[{"name":"Free","price":0},{"name":"Pro","price":39}],"hasFreeTier":true}`

	changes := mustCompare(t, oldDoc, newDoc)
	want := []Change{{
		Type:     Modified,
		Path:     "tiers[1].price",
		OldValue: rawJSON(`29`),
		NewValue: rawJSON(`39`),
	}}
	if diff := cmp.Diff(want, changes); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestCompare_TypeSensitive(t *testing.T) {
	changes := mustCompare(t, `{"v":10}`, `{"v":"10"}`)
	require.Len(t, changes, 1)
	assert.Equal(t, Modified, changes[0].Type)
	assert.Equal(t, `10`, string(changes[0].OldValue))
	assert.Equal(t, `"10"`, string(changes[0].NewValue))

	assert.Empty(t, mustCompare(t, `{"v":1.0}`, `{"v":1}`))
	assert.Len(t, mustCompare(t, `{"v":null}`, `{"v":false}`), 1)
}

func TestCompare_ArrayInsertCascades(t *testing.T) {
	changes := mustCompare(t, `{"xs":["a","b"]}`, `{"xs":["z","a","b"]}`)
	want := []Change{
		{Type: Modified, Path: "xs[0]", OldValue: rawJSON(`"a"`), NewValue: rawJSON(`"z"`)},
		{Type: Modified, Path: "xs[1]", OldValue: rawJSON(`"b"`), NewValue: rawJSON(`"a"`)},
		{Type: Added, Path: "xs[2]", NewValue: rawJSON(`"b"`)},
	}
	if diff := cmp.Diff(want, changes); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestCompare_SubtreeReportedAtRoot(t *testing.T) {
	changes := mustCompare(t, `{}`, `{"funding":{"totalRaised":"$5M","investors":["A","B"]}}`)
	require.Len(t, changes, 1)
	assert.Equal(t, "funding", changes[0].Path)
	assert.Equal(t, `{"totalRaised":"$5M","investors":["A","B"]}`, string(changes[0].NewValue))

	changes = mustCompare(t, `{"x":{"a":1}}`, `{"x":[1]}`)
	require.Len(t, changes, 1)
	assert.Equal(t, Modified, changes[0].Type)
	assert.Equal(t, "x", changes[0].Path)
}

func TestCompare_RootScalar(t *testing.T) {
	changes := mustCompare(t, `1`, `2`)
	require.Len(t, changes, 1)
	assert.Equal(t, RootPath, changes[0].Path)
}

func TestCompare_OrderAddedBeforeRemoved(t *testing.T) {
	changes := mustCompare(t, `{"gone":1,"kept":1}`, `{"kept":2,"new":3}`)
	var got []string
	for _, c := range changes {
		got = append(got, string(c.Type)+":"+c.Path)
	}
	assert.Equal(t, []string{"modified:kept", "added:new", "removed:gone"}, got)
}

func TestCompare_AntiSymmetric(t *testing.T) {
	a := `{"name":"Acme","tiers":[{"p":1},{"p":2}],"hq":"SF"}`
	b := `{"name":"Acme Inc","tiers":[{"p":1}],"ceo":"Jane"}`

	forward := mustCompare(t, a, b)
	backward := mustCompare(t, b, a)

	fs, bs := Summarize(forward), Summarize(backward)
	assert.Equal(t, fs.AddedCount, bs.RemovedCount)
	assert.Equal(t, fs.RemovedCount, bs.AddedCount)
	assert.Equal(t, fs.ModifiedCount, bs.ModifiedCount)

	byPath := func(cs []Change) map[string]Change {
		m := make(map[string]Change)
		for _, c := range cs {
			m[c.Path] = c
		}
		return m
	}
	if diff := cmp.Diff(byPath(Reverse(forward)), byPath(backward)); diff != "" {
		t.Errorf("reverse mismatch (-want +got):\n%s", diff)
	}
}

func TestCompare_DuplicateKeysUseLastValue(t *testing.T) {
	changes := mustCompare(t, `{"a":1,"a":1}`, `{}`)
	want := []Change{{Type: Removed, Path: "a", OldValue: rawJSON(`1`)}}
	if diff := cmp.Diff(want, changes); diff != "" {
		t.Errorf("duplicate removed mismatch (-want +got):\n%s", diff)
	}

	changes = mustCompare(t, `{"price":10}`, `{"price":10,"price":12}`)
	want = []Change{{Type: Modified, Path: "price", OldValue: rawJSON(`10`), NewValue: rawJSON(`12`)}}
	if diff := cmp.Diff(want, changes); diff != "" {
		t.Errorf("duplicate modified mismatch (-want +got):\n%s", diff)
	}

	assert.Empty(t, mustCompare(t, `{"a":{"x":1,"x":2}}`, `{"a":{"x":2}}`))
}

func TestCompare_KeysWithPathSyntaxAreQuoted(t *testing.T) {
	changes := mustCompare(t, `{"a.b":1}`, `{"a":{"b":2}}`)
	want := []Change{
		{Type: Added, Path: "a", NewValue: rawJSON(`{"b":2}`)},
		{Type: Removed, Path: `["a.b"]`, OldValue: rawJSON(`1`)},
	}
	if diff := cmp.Diff(want, changes); diff != "" {
		t.Errorf("dotted key mismatch (-want +got):\n%s", diff)
	}

	changes = mustCompare(t, `{"plans":{"tier[0]":"Free","":1}}`, `{"plans":{"tier[0]":"Basic","":2}}`)
	want = []Change{
		{Type: Modified, Path: `plans["tier[0]"]`, OldValue: rawJSON(`"Free"`), NewValue: rawJSON(`"Basic"`)},
		{Type: Modified, Path: `plans[""]`, OldValue: rawJSON(`1`), NewValue: rawJSON(`2`)},
	}
	if diff := cmp.Diff(want, changes); diff != "" {
		t.Errorf("quoted key mismatch (-want +got):\n%s", diff)
	}
}

func TestCompare_InvalidJSON(t *testing.T) {
	_, err := Compare([]byte(`{`), []byte(`{}`))
	assert.Error(t, err)
	_, err = Compare([]byte(`{}`), []byte(`nope`))
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	s := Summarize([]Change{{Type: Added}, {Type: Added}, {Type: Modified}})
	assert.Equal(t, Summary{AddedCount: 2, ModifiedCount: 1}, s)
	assert.Equal(t, 3, s.Total())
}

func TestDescribe(t *testing.T) {
	out := Describe([]Change{
		{Type: Added, Path: "ceo", NewValue: rawJSON(`"Jane"`)},
		{Type: Removed, Path: "tiers", OldValue: rawJSON(`[1,2,3]`)},
		{Type: Modified, Path: "funding", OldValue: rawJSON(`{"a":1,"b":2}`), NewValue: rawJSON(`null`)},
	})
	assert.Equal(t, "+ ceo: \"Jane\"\n- tiers: [3 items]\n~ funding: {2 fields} → null", out)
}

func TestFormatValue(t *testing.T) {
	long := `"abcdefghijklmnopqrstuvwxyzabcdefghijklmnopqrstuvwxyz0123"`
	assert.Equal(t, `"abcdefghijklmnopqrstuvwxyzabcdefghijklmnopqrstuvwx..."`, FormatValue([]byte(long)))
	assert.Equal(t, "42", FormatValue([]byte(`42`)))
	assert.Equal(t, "true", FormatValue([]byte(`true`)))
	assert.Equal(t, "null", FormatValue(nil))
}

func TestPreview(t *testing.T) {
	doc := `{
		"tiers": [{"name":"A","features":["x","y"]},{"name":"B"},{"name":"C"},{"name":"D"}],
		"currency": "USD",
		"k1": 1, "k2": 2, "k3": 3, "k4": 4
	}`
	p := gjson.ParseBytes(Preview([]byte(doc)))
	require.True(t, p.IsObject())

	assert.Len(t, p.Get("tiers").Array(), 3)
	assert.Equal(t, "{...}", p.Get("tiers.0").String())
	assert.Equal(t, "+1 more", p.Get(`\.\.\.`).String())
	assert.False(t, p.Get("k4").Exists())

	long := strings.Repeat("a", 150)
	s := gjson.ParseBytes(Preview([]byte(`"` + long + `"`)))
	assert.Len(t, s.String(), 103)

	assert.Equal(t, "null", string(Preview([]byte(`{`))))
}

func TestPreview_KeepsEmptyKey(t *testing.T) {
	assert.JSONEq(t, `{"":1,"b":2}`, string(Preview([]byte(`{"":1,"b":2}`))))
	assert.JSONEq(t, `{"a.b":{"":"x"}}`, string(Preview([]byte(`{"a.b":{"":"x"}}`))))
	assert.JSONEq(t, `{"a":2}`, string(Preview([]byte(`{"a":1,"a":2}`))))
}

func TestFormatValue_DuplicateKeysCountedOnce(t *testing.T) {
	assert.Equal(t, "{2 fields}", FormatValue([]byte(`{"a":1,"a":2,"b":3}`)))
}
