package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"

	"taskboard-api/domain"
	"taskboard-api/engine"
)

type fakePersistence struct {
	mu    sync.Mutex
	seq   int
	tasks map[string]domain.Task
	items map[string]domain.ChecklistItem
}

func newFakePersistence() *fakePersistence {
	return &fakePersistence{
		tasks: make(map[string]domain.Task),
		items: make(map[string]domain.ChecklistItem),
	}
}

func (f *fakePersistence) CreateTask(_ context.Context, spec domain.TaskSpec) (domain.Task, error) {
	if err := spec.Validate(); err != nil {
		return domain.Task{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	task := domain.Task{
		ID:          fmt.Sprintf("task-%d", f.seq),
		OwnerID:     spec.OwnerID,
		Title:       spec.Title,
		Description: spec.Description,
		ScheduledAt: spec.ScheduledAt,
		Status:      domain.StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	f.tasks[task.ID] = task
	return task, nil
}

func (f *fakePersistence) FetchTasksByRange(_ context.Context, from, to time.Time, ownerID string) ([]domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.Task{}
	for _, t := range f.tasks {
		if t.OwnerID != ownerID || t.ScheduledAt.Before(from) || !t.ScheduledAt.Before(to) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (f *fakePersistence) UpdateTaskStatus(_ context.Context, id string, status domain.Status) (domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[id]
	if !ok {
		return domain.Task{}, fmt.Errorf("task %s not found", id)
	}
	task.Status = status
	f.tasks[id] = task
	return task, nil
}

func (f *fakePersistence) UpdateTaskNotes(_ context.Context, id, notes string) (domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[id]
	if !ok {
		return domain.Task{}, fmt.Errorf("task %s not found", id)
	}
	task.Notes = notes
	f.tasks[id] = task
	return task, nil
}

func (f *fakePersistence) UpdateTaskScheduledAt(_ context.Context, id string, at time.Time) (domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[id]
	if !ok {
		return domain.Task{}, fmt.Errorf("task %s not found", id)
	}
	task.ScheduledAt = at
	f.tasks[id] = task
	return task, nil
}

func (f *fakePersistence) DeleteTask(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tasks, id)
	return nil
}

func (f *fakePersistence) FetchChecklistItems(_ context.Context, taskID string) ([]domain.ChecklistItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.ChecklistItem{}
	for _, it := range f.items {
		if it.TaskID == taskID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (f *fakePersistence) CreateChecklistItem(_ context.Context, taskID, content string) (domain.ChecklistItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	item := domain.ChecklistItem{
		ID:        fmt.Sprintf("item-%d", f.seq),
		TaskID:    taskID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	f.items[item.ID] = item
	return item, nil
}

func (f *fakePersistence) ToggleChecklistItem(_ context.Context, id string, done bool) (domain.ChecklistItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return domain.ChecklistItem{}, fmt.Errorf("item %s not found", id)
	}
	item.Done = done
	f.items[id] = item
	return item, nil
}

func (f *fakePersistence) DeleteChecklistItem(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, id)
	return nil
}

type mockAuth struct{}

func (mockAuth) UserIDFromAuthHeader(string) (string, error) { return "user", nil }

type memFeed struct {
	mu     sync.Mutex
	events []domain.BoardEvent
}

func (m *memFeed) PublishBoardEvents(_ context.Context, _ string, events []domain.BoardEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	return nil
}

func (m *memFeed) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

type memDeduper struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newMemDeduper() *memDeduper { return &memDeduper{keys: make(map[string]bool)} }

func (m *memDeduper) Add(_ context.Context, userID, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := userID + ":" + key
	if m.keys[k] {
		return false, nil
	}
	m.keys[k] = true
	return true, nil
}

func (m *memDeduper) Remove(_ context.Context, userID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, userID+":"+key)
	return nil
}

func newTestAPI(t *testing.T) (*echo.Echo, *fakePersistence, *memFeed, *memDeduper) {
	t.Helper()
	fake := newFakePersistence()
	feed := &memFeed{}
	deduper := newMemDeduper()
	logger, _ := test.NewNullLogger()
	boards := NewRegistry(func() *engine.Engine {
		return engine.New(fake, time.UTC, logger)
	})
	e := echo.New()
	Register(e, boards, feed, deduper, mockAuth{}, logger)
	return e, fake, feed, deduper
}

func doRequest(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	req.Header.Set(echo.HeaderAuthorization, "Bearer h.p.s")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func createRange(t *testing.T, e *echo.Echo, body string) tasksResponse {
	t.Helper()
	rec := doRequest(e, http.MethodPost, "/api/board/tasks", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create range: status %d body %s", rec.Code, rec.Body.String())
	}
	var resp tasksResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	return resp
}

func TestPostRangeTasksCreatesOnePerDay(t *testing.T) {
	e, _, feed, _ := newTestAPI(t)

	resp := createRange(t, e, `{"title":"Review stock","time":"09:00","from":"2026-03-02","to":"2026-03-04"}`)
	if len(resp.Tasks) != 3 {
		t.Fatalf("created %d tasks, want 3", len(resp.Tasks))
	}
	days := map[string]bool{}
	for _, task := range resp.Tasks {
		if task.Time != "09:00" {
			t.Fatalf("task time = %s", task.Time)
		}
		if task.Status != "pending" {
			t.Fatalf("task status = %s", task.Status)
		}
		days[task.Day] = true
	}
	for _, day := range []string{"2026-03-02", "2026-03-03", "2026-03-04"} {
		if !days[day] {
			t.Fatalf("missing day %s in %v", day, days)
		}
	}
	if feed.count() != 3 {
		t.Fatalf("published %d events, want 3", feed.count())
	}
}

func TestPostRangeTasksRejectsDuplicateKey(t *testing.T) {
	e, _, _, _ := newTestAPI(t)
	body := `{"title":"Review stock","time":"09:00","from":"2026-03-02","to":"2026-03-02","idempotencyKey":"abc"}`

	createRange(t, e, body)
	rec := doRequest(e, http.MethodPost, "/api/board/tasks", body)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate request: status %d", rec.Code)
	}
}

func TestPostRangeTasksInvalidTimeReleasesKey(t *testing.T) {
	e, _, _, deduper := newTestAPI(t)
	body := `{"title":"Review stock","time":"25:99","from":"2026-03-02","to":"2026-03-02","idempotencyKey":"abc"}`

	rec := doRequest(e, http.MethodPost, "/api/board/tasks", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid time: status %d", rec.Code)
	}
	if len(deduper.keys) != 0 {
		t.Fatal("failed request must release its idempotency key")
	}
}

func TestGetBoardBucketsWholeRange(t *testing.T) {
	e, fake, _, _ := newTestAPI(t)
	ctx := context.Background()
	for _, day := range []string{"2026-03-02", "2026-03-04"} {
		d, _ := domain.ParseDayKey(day)
		if _, err := fake.CreateTask(ctx, domain.TaskSpec{
			OwnerID:     "user",
			Title:       "Review stock",
			ScheduledAt: domain.Combine(d, domain.TimeOfDay{Hour: 9}, time.UTC),
		}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	rec := doRequest(e, http.MethodGet, "/api/board?from=2026-03-02&to=2026-03-04", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	var resp boardResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(resp.Board) != 3 {
		t.Fatalf("board has %d buckets, want 3 including the empty day", len(resp.Board))
	}
	if len(resp.Board["2026-03-03"]) != 0 {
		t.Fatal("empty day must have an empty bucket")
	}
	if got := resp.Board["2026-03-02"]; len(got) != 1 || got[0].Confirmation != "confirmed" {
		t.Fatalf("unexpected bucket: %+v", got)
	}
}

func TestGetBoardInvalidRange(t *testing.T) {
	e, _, _, _ := newTestAPI(t)
	rec := doRequest(e, http.MethodGet, "/api/board?from=yesterday&to=2026-03-04", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestToggleStatusWalksCycle(t *testing.T) {
	e, _, _, _ := newTestAPI(t)
	created := createRange(t, e, `{"title":"Review stock","time":"09:00","from":"2026-03-02","to":"2026-03-02"}`)
	id := created.Tasks[0].ID

	want := []string{"in_progress", "done", "cancelled", "pending"}
	for _, expected := range want {
		rec := doRequest(e, http.MethodPost, "/api/tasks/"+id+"/toggle", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("toggle: status %d body %s", rec.Code, rec.Body.String())
		}
		var task taskPayload
		if err := sonic.Unmarshal(rec.Body.Bytes(), &task); err != nil {
			t.Fatalf("invalid json: %v", err)
		}
		if task.Status != expected {
			t.Fatalf("status %s, want %s", task.Status, expected)
		}
	}
}

func TestToggleUnknownTaskIsNotFound(t *testing.T) {
	e, _, _, _ := newTestAPI(t)
	rec := doRequest(e, http.MethodPost, "/api/tasks/ghost/toggle", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestMoveTaskKeepsTimeOfDay(t *testing.T) {
	e, _, _, _ := newTestAPI(t)
	created := createRange(t, e, `{"title":"Review stock","time":"14:30","from":"2026-03-03","to":"2026-03-03"}`)
	id := created.Tasks[0].ID

	rec := doRequest(e, http.MethodPost, "/api/tasks/"+id+"/move", `{"day":"2026-03-06"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("move: status %d body %s", rec.Code, rec.Body.String())
	}
	var task taskPayload
	if err := sonic.Unmarshal(rec.Body.Bytes(), &task); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if task.Day != "2026-03-06" || task.Time != "14:30" {
		t.Fatalf("moved to %s %s, want 2026-03-06 14:30", task.Day, task.Time)
	}
}

func TestUpdateNotesHandler(t *testing.T) {
	e, _, _, _ := newTestAPI(t)
	created := createRange(t, e, `{"title":"Review stock","time":"09:00","from":"2026-03-02","to":"2026-03-02"}`)
	id := created.Tasks[0].ID

	rec := doRequest(e, http.MethodPut, "/api/tasks/"+id+"/notes", `{"notes":"supplier confirmed"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("notes: status %d body %s", rec.Code, rec.Body.String())
	}
	var task taskPayload
	if err := sonic.Unmarshal(rec.Body.Bytes(), &task); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if task.Notes != "supplier confirmed" {
		t.Fatalf("notes = %q", task.Notes)
	}
}

func TestDeleteTaskHandler(t *testing.T) {
	e, _, _, _ := newTestAPI(t)
	created := createRange(t, e, `{"title":"Review stock","time":"09:00","from":"2026-03-02","to":"2026-03-02"}`)
	id := created.Tasks[0].ID

	rec := doRequest(e, http.MethodDelete, "/api/tasks/"+id, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status %d", rec.Code)
	}
	rec = doRequest(e, http.MethodPost, "/api/tasks/"+id+"/toggle", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("toggling a deleted task: status %d", rec.Code)
	}
}

func TestDuplicateTaskHandler(t *testing.T) {
	e, _, _, _ := newTestAPI(t)
	created := createRange(t, e, `{"title":"Review stock","description":"back room","time":"09:00","from":"2026-03-02","to":"2026-03-02"}`)
	id := created.Tasks[0].ID

	rec := doRequest(e, http.MethodPost, "/api/tasks/"+id+"/duplicate", `{"day":"2026-03-05","time":"11:00"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("duplicate: status %d body %s", rec.Code, rec.Body.String())
	}
	var resp tasksResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(resp.Tasks) != 1 {
		t.Fatalf("duplicated %d tasks, want 1", len(resp.Tasks))
	}
	clone := resp.Tasks[0]
	if clone.ID == id {
		t.Fatal("clone must get a fresh identity")
	}
	if clone.Title != "Review stock" || clone.Description != "back room" {
		t.Fatalf("clone content: %+v", clone)
	}
	if clone.Day != "2026-03-05" || clone.Time != "11:00" || clone.Status != "pending" {
		t.Fatalf("clone placement: %+v", clone)
	}
}

func TestDuplicateTaskRangeHandler(t *testing.T) {
	e, _, _, _ := newTestAPI(t)
	created := createRange(t, e, `{"title":"Review stock","time":"09:00","from":"2026-03-02","to":"2026-03-02"}`)
	id := created.Tasks[0].ID

	// inverted bounds are swapped, not rejected
	rec := doRequest(e, http.MethodPost, "/api/tasks/"+id+"/duplicate", `{"from":"2026-03-07","to":"2026-03-05","time":"11:00"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("duplicate range: status %d body %s", rec.Code, rec.Body.String())
	}
	var resp tasksResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(resp.Tasks) != 3 {
		t.Fatalf("duplicated %d tasks, want 3", len(resp.Tasks))
	}
}

func TestClearDayHandler(t *testing.T) {
	e, _, _, _ := newTestAPI(t)
	createRange(t, e, `{"title":"Review stock","time":"09:00","from":"2026-03-02","to":"2026-03-03"}`)

	rec := doRequest(e, http.MethodDelete, "/api/board/days/2026-03-02", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("clear day: status %d body %s", rec.Code, rec.Body.String())
	}
	var resp clearDayResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(resp.Deleted) != 1 {
		t.Fatalf("deleted %d tasks, want 1", len(resp.Deleted))
	}
}

func TestChecklistCompletionFlipsTaskDone(t *testing.T) {
	e, _, _, _ := newTestAPI(t)
	created := createRange(t, e, `{"title":"Review stock","time":"09:00","from":"2026-03-02","to":"2026-03-02"}`)
	id := created.Tasks[0].ID

	itemIDs := make([]string, 0, 2)
	for _, content := range []string{"count boxes", "sign form"} {
		rec := doRequest(e, http.MethodPost, "/api/tasks/"+id+"/checklist", `{"content":"`+content+`"}`)
		if rec.Code != http.StatusCreated {
			t.Fatalf("add item: status %d body %s", rec.Code, rec.Body.String())
		}
		var item checklistItemPayload
		if err := sonic.Unmarshal(rec.Body.Bytes(), &item); err != nil {
			t.Fatalf("invalid json: %v", err)
		}
		itemIDs = append(itemIDs, item.ID)
	}

	rec := doRequest(e, http.MethodPost, "/api/tasks/"+id+"/checklist/"+itemIDs[0]+"/toggle", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("toggle item: status %d body %s", rec.Code, rec.Body.String())
	}
	var resp checklistResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.Complete {
		t.Fatal("one open item left, checklist must not be complete")
	}
	if resp.Task == nil || resp.Task.Status != "pending" {
		t.Fatalf("task flipped early: %+v", resp.Task)
	}

	rec = doRequest(e, http.MethodPost, "/api/tasks/"+id+"/checklist/"+itemIDs[1]+"/toggle", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("toggle last item: status %d body %s", rec.Code, rec.Body.String())
	}
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if !resp.Complete {
		t.Fatal("all items done, checklist must be complete")
	}
	if resp.Task == nil || resp.Task.Status != "done" {
		t.Fatalf("completion signal must mark the task done, got %+v", resp.Task)
	}
}

func TestChecklistRejectsEmptyContent(t *testing.T) {
	e, _, _, _ := newTestAPI(t)
	created := createRange(t, e, `{"title":"Review stock","time":"09:00","from":"2026-03-02","to":"2026-03-02"}`)
	id := created.Tasks[0].ID

	rec := doRequest(e, http.MethodPost, "/api/tasks/"+id+"/checklist", `{"content":"   "}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestGetChecklistLoadsFromPersistence(t *testing.T) {
	e, fake, _, _ := newTestAPI(t)
	created := createRange(t, e, `{"title":"Review stock","time":"09:00","from":"2026-03-02","to":"2026-03-02"}`)
	id := created.Tasks[0].ID
	ctx := context.Background()
	item, err := fake.CreateChecklistItem(ctx, id, "count boxes")
	if err != nil {
		t.Fatalf("seed item: %v", err)
	}
	if _, err := fake.ToggleChecklistItem(ctx, item.ID, true); err != nil {
		t.Fatalf("seed toggle: %v", err)
	}

	rec := doRequest(e, http.MethodGet, "/api/tasks/"+id+"/checklist", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	var resp checklistResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(resp.Items) != 1 || !resp.Items[0].Done {
		t.Fatalf("items: %+v", resp.Items)
	}
	if !resp.Complete {
		t.Fatal("all seeded items done, checklist must report complete")
	}
}
