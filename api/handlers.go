package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard-api/domain"
	"taskboard-api/engine"
	"taskboard-api/storage"
)

// Registry hands out one engine per board owner. Engines are created lazily
// and live for the lifetime of the process.
type Registry struct {
	mu        sync.Mutex
	engines   map[string]*engine.Engine
	newEngine func() *engine.Engine
}

func NewRegistry(newEngine func() *engine.Engine) *Registry {
	return &Registry{engines: make(map[string]*engine.Engine), newEngine: newEngine}
}

// Board returns the owner's engine, creating it on first use.
func (r *Registry) Board(ownerID string) *engine.Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	eng, ok := r.engines[ownerID]
	if !ok {
		eng = r.newEngine()
		r.engines[ownerID] = eng
	}
	return eng
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, boards *Registry, feed EventFeed, deduper Deduper, auth Authenticator, logger *log.Logger) {
	e.GET("/api/board", getBoard(boards, auth, logger))
	e.POST("/api/board/tasks", postRangeTasks(boards, feed, deduper, auth, logger))
	e.DELETE("/api/board/days/:day", clearDay(boards, feed, auth, logger))

	e.POST("/api/tasks/:id/duplicate", duplicateTask(boards, feed, auth, logger))
	e.POST("/api/tasks/:id/toggle", toggleStatus(boards, feed, auth, logger))
	e.POST("/api/tasks/:id/move", moveTask(boards, feed, auth, logger))
	e.PUT("/api/tasks/:id/notes", updateNotes(boards, feed, auth, logger))
	e.DELETE("/api/tasks/:id", deleteTask(boards, feed, auth, logger))

	e.GET("/api/tasks/:id/checklist", getChecklist(boards, auth))
	e.POST("/api/tasks/:id/checklist", addChecklistItem(boards, feed, auth, logger))
	e.POST("/api/tasks/:id/checklist/:itemID/toggle", toggleChecklistItem(boards, feed, auth, logger))
	e.DELETE("/api/tasks/:id/checklist/:itemID", deleteChecklistItem(boards, feed, auth, logger))

	e.GET("/healthz", healthz())
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, requestMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrEmptyTitle),
		errors.Is(err, domain.ErrEmptyOwner),
		errors.Is(err, domain.ErrEmptyContent),
		errors.Is(err, domain.ErrInvalidTimeOfDay),
		errors.Is(err, domain.ErrInvalidDayKey):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrTaskNotLoaded),
		errors.Is(err, storage.ErrTaskNotFound),
		errors.Is(err, storage.ErrChecklistItemNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func newBoardEvent(entityType, eventType, entityID string, payload any) domain.BoardEvent {
	data, err := sonic.Marshal(payload)
	if err != nil {
		data = nil
	}
	return domain.BoardEvent{
		ID:         uuid.NewString(),
		EntityID:   entityID,
		EntityType: entityType,
		Type:       eventType,
		Data:       sonic.NoCopyRawMessage(data),
		Timestamp:  nextTimestamp(),
	}
}

// publishEvents is best effort. The feed drives notifications, not state, so
// a publish failure must not fail the request.
func publishEvents(ctx context.Context, feed EventFeed, logger *log.Logger, ownerID string, events ...domain.BoardEvent) {
	if feed == nil || len(events) == 0 {
		return
	}
	if err := feed.PublishBoardEvents(ctx, ownerID, events); err != nil {
		logger.WithError(err).WithField("owner", ownerID).Warn("board event publish failed")
	}
}

func getBoard(boards *Registry, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newBoardRequestMetrics(ctx, logger)
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		userID, authErr := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		from, fromErr := domain.ParseDayKey(c.QueryParam("from"))
		to, toErr := domain.ParseDayKey(c.QueryParam("to"))
		if fromErr != nil || toErr != nil {
			metrics.SetErrorStage("invalid_range")
			err = c.String(http.StatusBadRequest, "invalid day range")
			return err
		}
		r := domain.NewDayRange(from, to)
		metrics.SetRangeDays(r.Len())

		eng := boards.Board(userID)
		loadStart := time.Now()
		tasks, loadErr := eng.LoadRange(ctx, userID, r)
		metrics.ObserveLoad(time.Since(loadStart))
		if loadErr != nil {
			metrics.SetErrorStage("storage")
			c.Logger().Error(loadErr)
			err = c.String(http.StatusInternalServerError, loadErr.Error())
			return err
		}
		metrics.SetTasksReturned(len(tasks))

		loc := eng.Location()
		board := eng.Board(r)
		resp := boardResponse{
			From:  string(r.From),
			To:    string(r.To),
			Board: make(map[domain.DayKey][]taskPayload, len(board)),
		}
		for day, dayTasks := range board {
			bucket := make([]taskPayload, 0, len(dayTasks))
			for _, t := range dayTasks {
				if ent, ok := eng.Store().Get(t.ID); ok {
					bucket = append(bucket, payloadFromEntry(ent, loc))
				} else {
					bucket = append(bucket, payloadFromTask(t, loc))
				}
			}
			resp.Board[day] = bucket
		}

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, resp)
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func postRangeTasks(boards *Registry, feed EventFeed, deduper Deduper, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		var req createRangeRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		from, fromErr := domain.ParseDayKey(req.From)
		to, toErr := domain.ParseDayKey(req.To)
		if fromErr != nil || toErr != nil {
			return c.String(http.StatusBadRequest, "invalid day range")
		}

		if req.IdempotencyKey == "" {
			req.IdempotencyKey = uuid.NewString()
		}
		if deduper != nil {
			added, dedupErr := deduper.Add(ctx, userID, req.IdempotencyKey)
			if dedupErr != nil {
				c.Logger().Error(dedupErr)
				return c.String(http.StatusInternalServerError, "idempotency check failed")
			}
			if !added {
				return c.JSON(http.StatusConflict, tasksResponse{Error: "duplicate request"})
			}
		}

		eng := boards.Board(userID)
		tpl := engine.Template{Title: req.Title, Description: req.Description, Time: req.Time}
		created, createErr := eng.Scheduler.CreateForRange(ctx, userID, tpl, from, to)
		if createErr != nil {
			if deduper != nil {
				if rmErr := deduper.Remove(ctx, userID, req.IdempotencyKey); rmErr != nil {
					logger.WithError(rmErr).Warn("idempotency key rollback failed")
				}
			}
			resp := tasksResponse{Tasks: taskPayloads(created, eng.Location()), Error: createErr.Error()}
			return c.JSON(statusForError(createErr), resp)
		}

		events := make([]domain.BoardEvent, 0, len(created))
		for _, t := range created {
			events = append(events, newBoardEvent(domain.EntityTask, domain.TaskCreated, t.ID, payloadFromTask(t, eng.Location())))
		}
		publishEvents(ctx, feed, logger, userID, events...)
		return c.JSON(http.StatusCreated, tasksResponse{Tasks: taskPayloads(created, eng.Location())})
	}
}

func taskPayloads(tasks []domain.Task, loc *time.Location) []taskPayload {
	out := make([]taskPayload, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, payloadFromTask(t, loc))
	}
	return out
}

func duplicateTask(boards *Registry, feed EventFeed, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req duplicateRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}

		eng := boards.Board(userID)
		source, ok := eng.Task(c.Param("id"))
		if !ok {
			return c.String(http.StatusNotFound, "task not loaded")
		}

		var created []domain.Task
		var dupErr error
		if req.From != "" || req.To != "" {
			var from, to domain.DayKey
			var fromErr, toErr error
			from, fromErr = domain.ParseDayKey(req.From)
			to, toErr = domain.ParseDayKey(req.To)
			if fromErr != nil || toErr != nil {
				return c.String(http.StatusBadRequest, "invalid day range")
			}
			created, dupErr = eng.Duplicator.DuplicateRange(ctx, source, from, to, req.Time)
		} else {
			day, dayErr := domain.ParseDayKey(req.Day)
			if dayErr != nil {
				return c.String(http.StatusBadRequest, "invalid day")
			}
			var task domain.Task
			task, dupErr = eng.Duplicator.Duplicate(ctx, source, day, req.Time)
			if dupErr == nil {
				created = []domain.Task{task}
			}
		}
		if dupErr != nil {
			resp := tasksResponse{Tasks: taskPayloads(created, eng.Location()), Error: dupErr.Error()}
			return c.JSON(statusForError(dupErr), resp)
		}

		events := make([]domain.BoardEvent, 0, len(created))
		for _, t := range created {
			events = append(events, newBoardEvent(domain.EntityTask, domain.TaskCreated, t.ID, payloadFromTask(t, eng.Location())))
		}
		publishEvents(ctx, feed, logger, userID, events...)
		return c.JSON(http.StatusCreated, tasksResponse{Tasks: taskPayloads(created, eng.Location())})
	}
}

func toggleStatus(boards *Registry, feed EventFeed, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		eng := boards.Board(userID)
		updated, toggleErr := eng.Status.Toggle(ctx, c.Param("id"))
		if toggleErr != nil {
			return c.String(statusForError(toggleErr), toggleErr.Error())
		}
		publishEvents(ctx, feed, logger, userID,
			newBoardEvent(domain.EntityTask, domain.TaskStatusSet, updated.ID, payloadFromTask(updated, eng.Location())))
		return c.JSON(http.StatusOK, payloadFromTask(updated, eng.Location()))
	}
}

func moveTask(boards *Registry, feed EventFeed, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req moveRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		day, dayErr := domain.ParseDayKey(req.Day)
		if dayErr != nil {
			return c.String(http.StatusBadRequest, "invalid day")
		}

		eng := boards.Board(userID)
		id := c.Param("id")
		moved, moveErr := eng.Rescheduler.MoveToDay(ctx, id, day)
		if moveErr != nil {
			if ent, ok := eng.Store().Get(id); ok {
				// the optimistic value stays visible alongside the failure tag
				return c.JSON(statusForError(moveErr), payloadFromEntry(ent, eng.Location()))
			}
			return c.String(statusForError(moveErr), moveErr.Error())
		}
		publishEvents(ctx, feed, logger, userID,
			newBoardEvent(domain.EntityTask, domain.TaskRescheduled, moved.ID, payloadFromTask(moved, eng.Location())))
		return c.JSON(http.StatusOK, payloadFromTask(moved, eng.Location()))
	}
}

func updateNotes(boards *Registry, feed EventFeed, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req notesRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}

		eng := boards.Board(userID)
		id := c.Param("id")
		if _, ok := eng.Task(id); !ok {
			return c.String(http.StatusNotFound, "task not loaded")
		}
		updated, updateErr := eng.UpdateNotes(ctx, id, req.Notes)
		if updateErr != nil {
			return c.String(statusForError(updateErr), updateErr.Error())
		}
		publishEvents(ctx, feed, logger, userID,
			newBoardEvent(domain.EntityTask, domain.TaskNotesSet, updated.ID, payloadFromTask(updated, eng.Location())))
		return c.JSON(http.StatusOK, payloadFromTask(updated, eng.Location()))
	}
}

func deleteTask(boards *Registry, feed EventFeed, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		eng := boards.Board(userID)
		id := c.Param("id")
		if _, ok := eng.Task(id); !ok {
			return c.String(http.StatusNotFound, "task not loaded")
		}
		if delErr := eng.DeleteTask(ctx, id); delErr != nil {
			return c.String(statusForError(delErr), delErr.Error())
		}
		publishEvents(ctx, feed, logger, userID,
			newBoardEvent(domain.EntityTask, domain.TaskDeleted, id, nil))
		return c.NoContent(http.StatusNoContent)
	}
}

func clearDay(boards *Registry, feed EventFeed, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		day, dayErr := domain.ParseDayKey(c.Param("day"))
		if dayErr != nil {
			return c.String(http.StatusBadRequest, "invalid day")
		}

		eng := boards.Board(userID)
		deleted, clearErr := eng.ClearDay(ctx, userID, day)
		events := make([]domain.BoardEvent, 0, len(deleted))
		for _, id := range deleted {
			events = append(events, newBoardEvent(domain.EntityTask, domain.TaskDeleted, id, nil))
		}
		publishEvents(ctx, feed, logger, userID, events...)

		resp := clearDayResponse{Deleted: deleted}
		if clearErr != nil {
			resp.Error = clearErr.Error()
			return c.JSON(http.StatusInternalServerError, resp)
		}
		return c.JSON(http.StatusOK, resp)
	}
}

func getChecklist(boards *Registry, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		eng := boards.Board(userID)
		taskID := c.Param("id")
		items, loadErr := eng.Checklist.Load(ctx, taskID)
		if loadErr != nil {
			return c.String(statusForError(loadErr), loadErr.Error())
		}
		return c.JSON(http.StatusOK, checklistResponse{
			Items:    checklistPayloads(items),
			Complete: eng.Checklist.Complete(taskID),
		})
	}
}

func checklistPayloads(items []domain.ChecklistItem) []checklistItemPayload {
	out := make([]checklistItemPayload, 0, len(items))
	for _, it := range items {
		out = append(out, checklistItemPayload{ID: it.ID, Content: it.Content, Done: it.Done})
	}
	return out
}

func addChecklistItem(boards *Registry, feed EventFeed, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req checklistAddRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}

		eng := boards.Board(userID)
		taskID := c.Param("id")
		if _, ok := eng.Task(taskID); !ok {
			return c.String(http.StatusNotFound, "task not loaded")
		}
		item, addErr := eng.Checklist.AddItem(ctx, taskID, req.Content)
		if addErr != nil {
			return c.String(statusForError(addErr), addErr.Error())
		}
		publishEvents(ctx, feed, logger, userID,
			newBoardEvent(domain.EntityChecklistItem, domain.ChecklistItemAdded, item.ID, checklistItemPayload{ID: item.ID, Content: item.Content, Done: item.Done}))
		return c.JSON(http.StatusCreated, checklistItemPayload{ID: item.ID, Content: item.Content, Done: item.Done})
	}
}

// checklistItemForMutation resolves an item id against the loaded checklist,
// loading it on demand for clients that mutate without fetching first.
func checklistItemForMutation(ctx context.Context, eng *engine.Engine, taskID, itemID string) (domain.ChecklistItem, bool, error) {
	if item, ok := eng.Checklist.Item(taskID, itemID); ok {
		return item, true, nil
	}
	if _, err := eng.Checklist.Load(ctx, taskID); err != nil {
		return domain.ChecklistItem{}, false, err
	}
	item, ok := eng.Checklist.Item(taskID, itemID)
	return item, ok, nil
}

func toggleChecklistItem(boards *Registry, feed EventFeed, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		eng := boards.Board(userID)
		taskID := c.Param("id")
		item, ok, lookupErr := checklistItemForMutation(ctx, eng, taskID, c.Param("itemID"))
		if lookupErr != nil {
			return c.String(statusForError(lookupErr), lookupErr.Error())
		}
		if !ok {
			return c.String(http.StatusNotFound, "checklist item not found")
		}

		updated, toggleErr := eng.Checklist.ToggleItem(ctx, item)
		if toggleErr != nil {
			return c.String(statusForError(toggleErr), toggleErr.Error())
		}
		publishEvents(ctx, feed, logger, userID,
			newBoardEvent(domain.EntityChecklistItem, domain.ChecklistItemToggled, updated.ID, checklistItemPayload{ID: updated.ID, Content: updated.Content, Done: updated.Done}))

		resp := checklistResponse{
			Items:    checklistPayloads(eng.Checklist.Items(taskID)),
			Complete: eng.Checklist.Complete(taskID),
		}
		// the completion signal may have flipped the task to done
		if ent, found := eng.Store().Get(taskID); found {
			p := payloadFromEntry(ent, eng.Location())
			resp.Task = &p
		}
		return c.JSON(http.StatusOK, resp)
	}
}

func deleteChecklistItem(boards *Registry, feed EventFeed, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		eng := boards.Board(userID)
		taskID := c.Param("id")
		item, ok, lookupErr := checklistItemForMutation(ctx, eng, taskID, c.Param("itemID"))
		if lookupErr != nil {
			return c.String(statusForError(lookupErr), lookupErr.Error())
		}
		if !ok {
			return c.String(http.StatusNotFound, "checklist item not found")
		}

		if delErr := eng.Checklist.DeleteItem(ctx, item); delErr != nil {
			return c.String(statusForError(delErr), delErr.Error())
		}
		publishEvents(ctx, feed, logger, userID,
			newBoardEvent(domain.EntityChecklistItem, domain.ChecklistItemDeleted, item.ID, nil))

		resp := checklistResponse{
			Items:    checklistPayloads(eng.Checklist.Items(taskID)),
			Complete: eng.Checklist.Complete(taskID),
		}
		if ent, found := eng.Store().Get(taskID); found {
			p := payloadFromEntry(ent, eng.Location())
			resp.Task = &p
		}
		return c.JSON(http.StatusOK, resp)
	}
}
