// Package query answers cross-entity questions over the latest completed
// extraction of each entity in a project.
package query

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/sells-group/research-kb/internal/apperr"
	"github.com/sells-group/research-kb/internal/model"
	"github.com/sells-group/research-kb/internal/store"
)

const defaultLimit = 100

// Service runs queries against a store.
type Service struct {
	store store.Store
}

// New creates a Service backed by st.
func New(st store.Store) *Service {
	return &Service{store: st}
}

// row is the latest extraction of one entity joined with its entity.
type row struct {
	x      model.Extraction
	entity model.Entity
}

// latest returns the newest completed extraction per (entity, schema type)
// in a project, newest first. An empty schemaType covers every type.
func (s *Service) latest(ctx context.Context, projectID string, schemaType model.SchemaType) ([]row, error) {
	if projectID == "" {
		return nil, apperr.Validation("projectId is required")
	}
	entities, err := s.store.ListEntities(ctx, store.EntityFilter{ProjectID: projectID})
	if err != nil {
		return nil, err
	}
	byID := make(map[string]model.Entity, len(entities))
	for _, e := range entities {
		byID[e.ID] = e
	}

	xs, err := s.store.ListExtractions(ctx, store.ExtractionFilter{
		ProjectID:  projectID,
		SchemaType: schemaType,
		Status:     model.ExtractionStatusCompleted,
	})
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	out := make([]row, 0, len(xs))
	for _, x := range xs {
		key := x.EntityID + ":" + string(x.SchemaType)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, row{x: x, entity: byID[x.EntityID]})
	}
	return out, nil
}

// byName sorts items by a case-insensitive collation of name(i).
func byName[T any](items []T, name func(T) string) {
	c := collate.New(language.Und, collate.IgnoreCase)
	sort.SliceStable(items, func(i, j int) bool {
		return c.CompareString(name(items[i]), name(items[j])) < 0
	})
}

// Entity identifies the entity a result belongs to.
type Entity struct {
	EntityID   string `json:"entityId"`
	EntityName string `json:"entityName"`
	EntityType string `json:"entityType,omitempty"`
	EntityURL  string `json:"entityUrl,omitempty"`
}

func entityOf(r row) Entity {
	name := r.entity.Name
	if name == "" {
		name = r.x.EntityName
	}
	return Entity{EntityID: r.x.EntityID, EntityName: name, EntityType: r.entity.EntityType, EntityURL: r.entity.URL}
}

// SearchInput is a generic query over extraction data. Filters map a gjson
// path to an expected value; string values may carry an operator: ">N",
// "<N", ">=N", "<=N", "!=null" or "contains:text".
type SearchInput struct {
	ProjectID  string           `json:"projectId"`
	SchemaType model.SchemaType `json:"schemaType,omitempty"`
	Filters    map[string]any   `json:"filters,omitempty"`
	SearchText string           `json:"searchText,omitempty"`
	Limit      int              `json:"limit,omitempty"`
}

// SearchResult is one matching extraction.
type SearchResult struct {
	Entity
	SchemaType    model.SchemaType `json:"schemaType"`
	Data          any              `json:"data"`
	ExtractedAt   time.Time        `json:"extractedAt"`
	SourceURL     string           `json:"sourceUrl"`
	MatchedFields []string         `json:"matchedFields,omitempty"`
}

// SearchSummary counts results by schema and entity type.
type SearchSummary struct {
	TotalResults int                      `json:"totalResults"`
	BySchemaType map[model.SchemaType]int `json:"bySchemaType"`
	ByEntityType map[string]int           `json:"byEntityType"`
}

// SearchResults is the response to Search.
type SearchResults struct {
	Results []SearchResult `json:"results"`
	Summary SearchSummary  `json:"summary"`
}

// Search returns the latest extractions whose data contains SearchText and
// satisfies every filter.
func (s *Service) Search(ctx context.Context, in SearchInput) (*SearchResults, error) {
	rows, err := s.latest(ctx, in.ProjectID, in.SchemaType)
	if err != nil {
		return nil, err
	}
	limit := in.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	term := strings.ToLower(strings.TrimSpace(in.SearchText))

	out := &SearchResults{
		Results: []SearchResult{},
		Summary: SearchSummary{BySchemaType: map[model.SchemaType]int{}, ByEntityType: map[string]int{}},
	}
	for _, r := range rows {
		if len(out.Results) >= limit {
			break
		}
		data := gjson.ParseBytes(r.x.Data)

		var matched []string
		if term != "" {
			search(data, "", term, &matched)
			if len(matched) == 0 {
				continue
			}
		}
		if !passes(data, in.Filters) {
			continue
		}

		ent := entityOf(r)
		out.Summary.BySchemaType[r.x.SchemaType]++
		et := ent.EntityType
		if et == "" {
			et = "unknown"
		}
		out.Summary.ByEntityType[et]++
		out.Results = append(out.Results, SearchResult{
			Entity:        ent,
			SchemaType:    r.x.SchemaType,
			Data:          data.Value(),
			ExtractedAt:   r.x.ExtractedAt,
			SourceURL:     r.x.SourceURL,
			MatchedFields: matched,
		})
	}
	out.Summary.TotalResults = len(out.Results)
	return out, nil
}

// search appends the paths of scalar values under v that contain term.
func search(v gjson.Result, path, term string, out *[]string) {
	switch {
	case v.IsArray():
		for i, el := range v.Array() {
			search(el, path+"["+strconv.Itoa(i)+"]", term, out)
		}
	case v.IsObject():
		v.ForEach(func(k, val gjson.Result) bool {
			p := k.String()
			if path != "" {
				p = path + "." + p
			}
			search(val, p, term, out)
			return true
		})
	case v.Type == gjson.String, v.Type == gjson.Number, v.Type == gjson.True, v.Type == gjson.False:
		if strings.Contains(strings.ToLower(v.String()), term) {
			if path == "" {
				path = "root"
			}
			*out = append(*out, path)
		}
	}
}

func passes(data gjson.Result, filters map[string]any) bool {
	for path, want := range filters {
		if !matches(data.Get(path), want) {
			return false
		}
	}
	return true
}

// matches compares an actual value with an expected one, honoring the
// string operators documented on SearchInput.
func matches(actual gjson.Result, want any) bool {
	if s, ok := want.(string); ok {
		for _, op := range []string{">=", "<=", ">", "<"} {
			if strings.HasPrefix(s, op) {
				n, err := strconv.ParseFloat(strings.TrimSpace(s[len(op):]), 64)
				if err != nil || actual.Type != gjson.Number {
					return false
				}
				return compare(actual.Num, op, n)
			}
		}
		if s == "!=null" {
			return actual.Exists() && actual.Type != gjson.Null
		}
		if term, ok := strings.CutPrefix(s, "contains:"); ok {
			term = strings.ToLower(term)
			if actual.Type == gjson.String {
				return strings.Contains(strings.ToLower(actual.Str), term)
			}
			if actual.IsArray() {
				for _, el := range actual.Array() {
					if strings.Contains(strings.ToLower(el.String()), term) {
						return true
					}
				}
			}
			return false
		}
		return actual.Type == gjson.String && actual.Str == s
	}

	switch w := want.(type) {
	case nil:
		return actual.Type == gjson.Null
	case bool:
		return (w && actual.Type == gjson.True) || (!w && actual.Type == gjson.False)
	case float64:
		return actual.Type == gjson.Number && actual.Num == w
	case int:
		return actual.Type == gjson.Number && actual.Num == float64(w)
	}
	return false
}

func compare(a float64, op string, b float64) bool {
	switch op {
	case ">=":
		return a >= b
	case "<=":
		return a <= b
	case ">":
		return a > b
	default:
		return a < b
	}
}

// FieldValue is one distinct value of a field and the entities holding it.
type FieldValue struct {
	Value    any      `json:"value"`
	Count    int      `json:"count"`
	Entities []string `json:"entities"`
}

// FieldValues is the response to Values.
type FieldValues struct {
	Values        []FieldValue `json:"values"`
	TotalEntities int          `json:"totalEntities"`
}

// Values collects the distinct values of fieldPath across the latest
// extractions of schemaType, most common first. Array fields contribute
// each element.
func (s *Service) Values(ctx context.Context, projectID string, schemaType model.SchemaType, fieldPath string) (*FieldValues, error) {
	if !schemaType.Valid() {
		return nil, apperr.Validationf("unknown schema type %q", schemaType)
	}
	if fieldPath == "" {
		return nil, apperr.Validation("fieldPath is required")
	}
	rows, err := s.latest(ctx, projectID, schemaType)
	if err != nil {
		return nil, err
	}

	var order []string
	counts := map[string]*FieldValue{}
	for _, r := range rows {
		v := gjson.GetBytes(r.x.Data, fieldPath)
		if !v.Exists() {
			continue
		}
		values := []gjson.Result{v}
		if v.IsArray() {
			values = v.Array()
		}
		for _, el := range values {
			key := el.Raw
			fv, ok := counts[key]
			if !ok {
				fv = &FieldValue{Value: el.Value(), Entities: []string{}}
				counts[key] = fv
				order = append(order, key)
			}
			fv.Count++
			fv.Entities = append(fv.Entities, entityOf(r).EntityName)
		}
	}

	out := &FieldValues{Values: make([]FieldValue, 0, len(order)), TotalEntities: len(rows)}
	for _, k := range order {
		out.Values = append(out.Values, *counts[k])
	}
	sort.SliceStable(out.Values, func(i, j int) bool { return out.Values[i].Count > out.Values[j].Count })
	return out, nil
}
