package agenda

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/research-kb/internal/apperr"
	"github.com/sells-group/research-kb/internal/model"
	"github.com/sells-group/research-kb/internal/store"
)

const (
	// DefaultDir is where agendas live unless configured otherwise.
	DefaultDir = ".agenda"

	statusListLen = 5
	extractPrefix = "extract:"
	doneMessage   = "Agenda complete! No more pending items."
)

// Service manages agendas stored as JSON files under a directory.
type Service struct {
	dir   string
	store store.Store
	now   func() time.Time

	mu sync.Mutex
}

// New creates a Service keeping its files in dir and resolving entities
// through st.
func New(dir string, st store.Store) *Service {
	if dir == "" {
		dir = DefaultDir
	}
	return &Service{dir: dir, store: st, now: func() time.Time { return time.Now().UTC() }}
}

// Filter selects entities for a new agenda.
type Filter struct {
	MissingSchemaType model.SchemaType `json:"missingSchemaType,omitempty"`
	EntityType        string           `json:"entityType,omitempty"`
	HasURL            *bool            `json:"hasUrl,omitempty"`
}

// CreateInput describes a new agenda. EntityIDs wins over Filter; with
// neither, every entity in the project is queued.
type CreateInput struct {
	ProjectID       string   `json:"projectId"`
	Name            string   `json:"name"`
	TaskType        string   `json:"taskType"`
	TaskDescription string   `json:"taskDescription,omitempty"`
	EntityIDs       []string `json:"entityIds,omitempty"`
	Filter          *Filter  `json:"filter,omitempty"`
}

// Create builds an agenda from the selected entities, ordered by name.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Agenda, error) {
	if in.ProjectID == "" {
		return nil, apperr.Validation("projectId is required")
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, apperr.Validation("name is required")
	}
	if strings.TrimSpace(in.TaskType) == "" {
		return nil, apperr.Validation("taskType is required")
	}
	if in.Filter != nil && in.Filter.MissingSchemaType != "" && !in.Filter.MissingSchemaType.Valid() {
		return nil, apperr.Validationf("unknown schema type %q", in.Filter.MissingSchemaType)
	}

	project, err := s.store.GetProject(ctx, in.ProjectID)
	if err != nil {
		return nil, err
	}
	entities, err := s.selectEntities(ctx, in)
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, apperr.Validation("no entities match the selection criteria")
	}

	items := make([]Item, 0, len(entities))
	for _, e := range entities {
		items = append(items, Item{EntityID: e.ID, EntityName: e.Name, EntityURL: e.URL, Status: ItemPending})
	}
	now := s.now()
	a := &Agenda{
		ID:              newID(),
		Name:            strings.TrimSpace(in.Name),
		ProjectID:       project.ID,
		ProjectName:     project.Name,
		TaskType:        strings.TrimSpace(in.TaskType),
		TaskDescription: in.TaskDescription,
		CreatedAt:       now,
		Items:           items,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.save(a); err != nil {
		return nil, err
	}
	zap.L().Info("agenda: created",
		zap.String("agenda_id", a.ID),
		zap.String("task_type", a.TaskType),
		zap.Int("items", len(items)),
	)
	return a, nil
}

func (s *Service) selectEntities(ctx context.Context, in CreateInput) ([]model.Entity, error) {
	f := store.EntityFilter{ProjectID: in.ProjectID}
	if len(in.EntityIDs) == 0 && in.Filter != nil {
		f.EntityType = in.Filter.EntityType
	}
	all, err := s.store.ListEntities(ctx, f)
	if err != nil {
		return nil, err
	}

	if len(in.EntityIDs) > 0 {
		want := make(map[string]bool, len(in.EntityIDs))
		for _, id := range in.EntityIDs {
			want[id] = true
		}
		out := []model.Entity{}
		for _, e := range all {
			if want[e.ID] {
				out = append(out, e)
			}
		}
		return out, nil
	}
	if in.Filter == nil {
		return all, nil
	}

	var done map[string]bool
	if in.Filter.MissingSchemaType != "" {
		done, err = s.withExtraction(ctx, in.ProjectID, in.Filter.MissingSchemaType)
		if err != nil {
			return nil, err
		}
	}
	out := []model.Entity{}
	for _, e := range all {
		if in.Filter.HasURL != nil && *in.Filter.HasURL != (e.URL != "") {
			continue
		}
		if done[e.ID] {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// withExtraction returns the ids of entities holding a completed extraction
// of schemaType.
func (s *Service) withExtraction(ctx context.Context, projectID string, schemaType model.SchemaType) (map[string]bool, error) {
	xs, err := s.store.ListExtractions(ctx, store.ExtractionFilter{
		ProjectID:  projectID,
		SchemaType: schemaType,
		Status:     model.ExtractionStatusCompleted,
	})
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(xs))
	for _, x := range xs {
		out[x.EntityID] = true
	}
	return out, nil
}

// AgendaRef is the short identity of an agenda in a status report.
type AgendaRef struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	TaskType    string `json:"taskType"`
	ProjectName string `json:"projectName"`
}

// StatusReport summarizes where an agenda stands.
type StatusReport struct {
	Agenda            AgendaRef `json:"agenda"`
	Progress          Progress  `json:"progress"`
	Stats             Stats     `json:"stats"`
	CurrentItem       *Item     `json:"currentItem"`
	RecentlyCompleted []Item    `json:"recentlyCompleted"`
	NextItems         []Item    `json:"nextItems"`
}

// Status reports progress, the current item (in progress, else the first
// pending), the last five completed and the next five pending items.
func (s *Service) Status(id string) (*StatusReport, error) {
	a, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	r := &StatusReport{
		Agenda:            AgendaRef{ID: a.ID, Name: a.Name, TaskType: a.TaskType, ProjectName: a.ProjectName},
		Progress:          progressOf(a.Stats),
		Stats:             a.Stats,
		RecentlyCompleted: []Item{},
		NextItems:         []Item{},
	}
	if i := a.firstWith(ItemInProgress); i >= 0 {
		it := a.Items[i]
		r.CurrentItem = &it
	} else {
		r.CurrentItem = a.nextPending()
	}

	for _, it := range a.Items {
		switch it.Status {
		case ItemCompleted:
			r.RecentlyCompleted = append(r.RecentlyCompleted, it)
		case ItemPending:
			if len(r.NextItems) < statusListLen {
				r.NextItems = append(r.NextItems, it)
			}
		}
	}
	sort.SliceStable(r.RecentlyCompleted, func(i, j int) bool {
		return completedAt(r.RecentlyCompleted[i]).After(completedAt(r.RecentlyCompleted[j]))
	})
	if len(r.RecentlyCompleted) > statusListLen {
		r.RecentlyCompleted = r.RecentlyCompleted[:statusListLen]
	}
	return r, nil
}

func completedAt(it Item) time.Time {
	if it.CompletedAt == nil {
		return time.Time{}
	}
	return *it.CompletedAt
}

// NextResult is the item handed out by Next. When nothing is pending only
// Message and Stats are set.
type NextResult struct {
	Item      *Item  `json:"item,omitempty"`
	Position  int    `json:"position,omitempty"`
	Remaining int    `json:"remaining"`
	Command   string `json:"command,omitempty"`
	Message   string `json:"message,omitempty"`
	Stats     *Stats `json:"stats,omitempty"`
}

// Next marks the first pending item in progress and returns it with a
// suggested command for extract tasks.
func (s *Service) Next(id string) (*NextResult, error) {
	var res NextResult
	_, err := s.update(id, func(a *Agenda) error {
		i := a.firstWith(ItemPending)
		if i < 0 {
			st := statsOf(a.Items)
			res = NextResult{Message: doneMessage, Stats: &st}
			return nil
		}
		now := s.now()
		a.Items[i].Status = ItemInProgress
		a.Items[i].StartedAt = &now
		a.CurrentIndex = i

		it := a.Items[i]
		res = NextResult{
			Item:      &it,
			Position:  i + 1,
			Remaining: statsOf(a.Items).Pending,
			Command:   suggestCommand(a.TaskType, it),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// suggestCommand proposes the run invocation for an extract task item.
func suggestCommand(taskType string, it Item) string {
	schemaType, ok := strings.CutPrefix(taskType, extractPrefix)
	if !ok || it.EntityURL == "" {
		return ""
	}
	return fmt.Sprintf(`research-kb run extract:extract '{"entityId": %q, "url": %q, "schemaType": %q}'`,
		it.EntityID, it.EntityURL, schemaType)
}

// Transition is the result of finishing the current item. Exactly one of
// Completed, Skipped and Failed is set, matching how the item ended.
type Transition struct {
	Completed *Item     `json:"completed,omitempty"`
	Skipped   *Item     `json:"skipped,omitempty"`
	Failed    *Item     `json:"failed,omitempty"`
	NextItem  *Item     `json:"nextItem"`
	Progress  *Progress `json:"progress,omitempty"`
}

// Item returns the finished item.
func (t *Transition) Item() *Item {
	switch {
	case t.Completed != nil:
		return t.Completed
	case t.Skipped != nil:
		return t.Skipped
	default:
		return t.Failed
	}
}

// Complete marks the in-progress item completed with optional notes.
func (s *Service) Complete(id, notes string) (*Transition, error) {
	return s.finish(id, ItemCompleted, func(it *Item) {
		if notes != "" {
			it.Notes = notes
		}
	})
}

// Skip marks the in-progress item skipped with an optional reason.
func (s *Service) Skip(id, reason string) (*Transition, error) {
	return s.finish(id, ItemSkipped, func(it *Item) {
		if reason != "" {
			it.Notes = reason
		}
	})
}

// Fail marks the in-progress item failed with msg.
func (s *Service) Fail(id, msg string) (*Transition, error) {
	return s.finish(id, ItemFailed, func(it *Item) { it.Error = msg })
}

func (s *Service) finish(id string, status ItemStatus, apply func(*Item)) (*Transition, error) {
	var t Transition
	a, err := s.update(id, func(a *Agenda) error {
		i := a.firstWith(ItemInProgress)
		if i < 0 {
			return apperr.Validation("no item currently in progress")
		}
		now := s.now()
		a.Items[i].Status = status
		a.Items[i].CompletedAt = &now
		apply(&a.Items[i])
		it := a.Items[i]
		switch status {
		case ItemCompleted:
			t.Completed = &it
		case ItemSkipped:
			t.Skipped = &it
		default:
			t.Failed = &it
		}
		t.NextItem = a.nextPending()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if status == ItemCompleted {
		p := completionProgress(a.Stats)
		t.Progress = &p
	}
	zap.L().Debug("agenda: item finished",
		zap.String("agenda_id", id),
		zap.String("entity_id", t.Item().EntityID),
		zap.String("status", string(status)),
	)
	return &t, nil
}

// ResetOptions selects which finished items go back to pending. Nil fields
// default to true. In-progress items are always reset.
type ResetOptions struct {
	Completed *bool `json:"resetCompleted,omitempty"`
	Skipped   *bool `json:"resetSkipped,omitempty"`
	Failed    *bool `json:"resetFailed,omitempty"`
}

func orTrue(b *bool) bool { return b == nil || *b }

// Reset returns items to pending per opts.
func (s *Service) Reset(id string, opts ResetOptions) (*Agenda, error) {
	reset := map[ItemStatus]bool{
		ItemInProgress: true,
		ItemCompleted:  orTrue(opts.Completed),
		ItemSkipped:    orTrue(opts.Skipped),
		ItemFailed:     orTrue(opts.Failed),
	}
	return s.update(id, func(a *Agenda) error {
		for i := range a.Items {
			it := &a.Items[i]
			if !reset[it.Status] {
				continue
			}
			if it.Status != ItemInProgress {
				it.CompletedAt = nil
				it.Notes = ""
				it.Error = ""
			}
			it.Status = ItemPending
			it.StartedAt = nil
		}
		a.CurrentIndex = 0
		return nil
	})
}

// Suggestion proposes an agenda covering a research gap.
type Suggestion struct {
	Name        string `json:"name"`
	TaskType    string `json:"taskType"`
	EntityCount int    `json:"entityCount"`
	Description string `json:"description"`
}

// Suggest proposes one extract agenda per schema type that some entities
// with a URL are missing, largest first.
func (s *Service) Suggest(ctx context.Context, projectID string) ([]Suggestion, error) {
	if projectID == "" {
		return nil, apperr.Validation("projectId is required")
	}
	entities, err := s.store.ListEntities(ctx, store.EntityFilter{ProjectID: projectID})
	if err != nil {
		return nil, err
	}
	xs, err := s.store.ListExtractions(ctx, store.ExtractionFilter{
		ProjectID: projectID,
		Status:    model.ExtractionStatusCompleted,
	})
	if err != nil {
		return nil, err
	}
	has := map[string]map[model.SchemaType]bool{}
	for _, x := range xs {
		if has[x.EntityID] == nil {
			has[x.EntityID] = map[model.SchemaType]bool{}
		}
		has[x.EntityID][x.SchemaType] = true
	}

	out := []Suggestion{}
	for _, t := range model.SchemaTypes {
		n := 0
		for _, e := range entities {
			if e.URL != "" && !has[e.ID][t] {
				n++
			}
		}
		if n == 0 {
			continue
		}
		out = append(out, Suggestion{
			Name:        fmt.Sprintf("Extract %s for all entities", t),
			TaskType:    extractPrefix + string(t),
			EntityCount: n,
			Description: fmt.Sprintf("%d entities with URLs are missing %s data", n, t),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EntityCount > out[j].EntityCount })
	return out, nil
}
