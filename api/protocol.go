package api

import (
	"time"

	"taskboard-api/domain"
	"taskboard-api/engine"
)

const requestMaxSize = 64 * 1024 // 64 KiB

type taskPayload struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	Notes        string `json:"notes,omitempty"`
	Status       string `json:"status"`
	Day          string `json:"day"`
	Time         string `json:"time"`
	Confirmation string `json:"confirmation"`
}

func payloadFromEntry(ent engine.Entry, loc *time.Location) taskPayload {
	p := payloadFromTask(ent.Task, loc)
	p.Confirmation = string(ent.Confirmation)
	return p
}

func payloadFromTask(t domain.Task, loc *time.Location) taskPayload {
	return taskPayload{
		ID:           t.ID,
		Title:        t.Title,
		Description:  t.Description,
		Notes:        t.Notes,
		Status:       string(t.Status),
		Day:          string(t.Day(loc)),
		Time:         t.TimeOfDay(loc).String(),
		Confirmation: string(engine.Confirmed),
	}
}

type boardResponse struct {
	From  string                          `json:"from"`
	To    string                          `json:"to"`
	Board map[domain.DayKey][]taskPayload `json:"board"`
}

type createRangeRequest struct {
	Title          string `json:"title"`
	Description    string `json:"description,omitempty"`
	Time           string `json:"time"`
	From           string `json:"from"`
	To             string `json:"to"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// duplicateRequest clones a task either onto a single day or across a range.
type duplicateRequest struct {
	Time string `json:"time"`
	Day  string `json:"day,omitempty"`
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

type moveRequest struct {
	Day string `json:"day"`
}

type notesRequest struct {
	Notes string `json:"notes"`
}

type checklistAddRequest struct {
	Content string `json:"content"`
}

type tasksResponse struct {
	Tasks []taskPayload `json:"tasks"`
	Error string        `json:"error,omitempty"`
}

type checklistItemPayload struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Done    bool   `json:"done"`
}

type checklistResponse struct {
	Items    []checklistItemPayload `json:"items"`
	Complete bool                   `json:"complete"`
	Task     *taskPayload           `json:"task,omitempty"`
}

type clearDayResponse struct {
	Deleted []string `json:"deleted"`
	Error   string   `json:"error,omitempty"`
}
