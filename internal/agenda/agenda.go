// Package agenda keeps resumable batch work queues. Each agenda is a JSON file
// listing the entities to work through and where each one stands, so a
// session can stop and pick up later.
package agenda

import (
	"time"
)

// ItemStatus is the state of one agenda item.
type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemInProgress ItemStatus = "in_progress"
	ItemCompleted  ItemStatus = "completed"
	ItemSkipped    ItemStatus = "skipped"
	ItemFailed     ItemStatus = "failed"
)

// Item is one entity to process.
type Item struct {
	EntityID    string     `json:"entityId"`
	EntityName  string     `json:"entityName"`
	EntityURL   string     `json:"entityUrl,omitempty"`
	Status      ItemStatus `json:"status"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Error       string     `json:"error,omitempty"`
	Notes       string     `json:"notes,omitempty"`
}

// Stats counts items by status.
type Stats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"inProgress"`
	Completed  int `json:"completed"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// Agenda is a named queue of items for one project and task.
type Agenda struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	ProjectID       string    `json:"projectId"`
	ProjectName     string    `json:"projectName"`
	TaskType        string    `json:"taskType"`
	TaskDescription string    `json:"taskDescription,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
	Items           []Item    `json:"items"`
	CurrentIndex    int       `json:"currentIndex"`
	Stats           Stats     `json:"stats"`
}

func statsOf(items []Item) Stats {
	st := Stats{Total: len(items)}
	for _, it := range items {
		switch it.Status {
		case ItemPending:
			st.Pending++
		case ItemInProgress:
			st.InProgress++
		case ItemCompleted:
			st.Completed++
		case ItemSkipped:
			st.Skipped++
		case ItemFailed:
			st.Failed++
		}
	}
	return st
}

// firstWith returns the index of the first item in status, or -1.
func (a *Agenda) firstWith(status ItemStatus) int {
	for i := range a.Items {
		if a.Items[i].Status == status {
			return i
		}
	}
	return -1
}

func (a *Agenda) nextPending() *Item {
	if i := a.firstWith(ItemPending); i >= 0 {
		it := a.Items[i]
		return &it
	}
	return nil
}

// Summary is the listing view of an agenda.
type Summary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ProjectName string    `json:"projectName"`
	TaskType    string    `json:"taskType"`
	Stats       Stats     `json:"stats"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Progress is the share of finished items. Status reports count skipped
// items as done; the progress returned by Complete counts completed items
// only.
type Progress struct {
	Percent   int `json:"percent"`
	Completed int `json:"completed"`
	Remaining int `json:"remaining"`
	Total     int `json:"total"`
}

func progressOf(st Stats) Progress {
	done := st.Completed + st.Skipped
	p := Progress{
		Completed: done,
		Remaining: st.Pending + st.InProgress,
		Total:     st.Total,
	}
	if st.Total > 0 {
		p.Percent = roundPercent(done, st.Total)
	}
	return p
}

func completionProgress(st Stats) Progress {
	p := Progress{
		Completed: st.Completed,
		Remaining: st.Pending + st.InProgress,
		Total:     st.Total,
	}
	if st.Total > 0 {
		p.Percent = roundPercent(st.Completed, st.Total)
	}
	return p
}

func roundPercent(n, total int) int {
	return (n*200 + total) / (total * 2)
}
