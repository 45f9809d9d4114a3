package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/santhosh-tekuri/jsonschema/v5"
	log "github.com/sirupsen/logrus"

	"todo-api/domain"
)

const (
	msgValidationFailed = "Input payload validation failed"
	msgStorageFailure   = "storage failure"
	msgDecodeFailed     = "Failed to decode JSON object"
)

var errBodyTooLarge = errors.New("request body too large")

// Register wires up all API routes on the provided Echo instance. auth and
// deduper are optional.
func Register(e *echo.Echo, todos Todos, auth Authenticator, deduper Deduper, logger *log.Logger) {
	mw := []echo.MiddlewareFunc{metricsMiddleware(logger)}
	if auth != nil {
		mw = append(mw, requireAuth(auth))
	}
	g := e.Group("/todos", mw...)

	list := listTodos(todos.List)
	g.GET("", list)
	g.GET("/", list)
	g.POST("", createTodo(todos, deduper, logger))
	g.POST("/", createTodo(todos, deduper, logger))

	done := listTodos(todos.ListComplete)
	g.GET("/complete", done)
	g.GET("/complete/", done)
	open := listTodos(todos.ListIncomplete)
	g.GET("/incomplete", open)
	g.GET("/incomplete/", open)
	g.PUT("/complete/:id", completeTodo(todos, logger))

	g.GET("/:id", getTodo(todos, logger))
	g.PUT("/:id", updateTodo(todos, logger))
	g.DELETE("/:id", deleteTodo(todos, logger))

	e.GET("/swagger.json", swagger())
	e.GET("/healthz", healthz(todos))
}

func healthz(todos Todos) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, healthResponse{Status: "ok", Tasks: todos.Len()})
	}
}

func listTodos(list func(context.Context) []domain.Task) echo.HandlerFunc {
	return func(c echo.Context) error {
		tasks := list(c.Request().Context())
		if tasks == nil {
			tasks = []domain.Task{}
		}
		metricsFrom(c).SetTasksReturned(len(tasks))
		return c.JSON(http.StatusOK, tasks)
	}
}

func getTodo(todos Todos, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, ok := parseID(c)
		if !ok {
			return notFound(c, c.Param("id"))
		}
		t, err := todos.Get(c.Request().Context(), id)
		if err != nil {
			return writeError(c, logger, id, err)
		}
		metricsFrom(c).SetTasksReturned(1)
		return c.JSON(http.StatusOK, t)
	}
}

func createTodo(todos Todos, deduper Deduper, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		metrics := metricsFrom(c)
		p, ok, err := readPayload(c, createSchema)
		if !ok {
			return err
		}
		ctx := c.Request().Context()

		key := c.Request().Header.Get(headerIdempotencyKey)
		if key != "" && deduper != nil {
			claimed, claimErr := deduper.Claim(ctx, key)
			switch {
			case claimErr != nil:
				logger.WithError(claimErr).Warn("idempotency claim failed; creating without dedupe")
				key = ""
			case !claimed:
				return replayCreate(c, todos, deduper, key)
			}
		} else {
			key = ""
		}

		start := time.Now()
		t, err := todos.Create(ctx, p.patch())
		metrics.ObserveStore(time.Since(start))
		if err != nil {
			if key != "" {
				if relErr := deduper.Release(ctx, key); relErr != nil {
					logger.WithError(relErr).Warnf("release idempotency key %q", key)
				}
			}
			return writeError(c, logger, -1, err)
		}
		if key != "" {
			if resErr := deduper.Resolve(ctx, key, t.ID); resErr != nil {
				logger.WithError(resErr).Warnf("resolve idempotency key %q", key)
			}
		}
		metrics.SetTaskID(t.ID)
		return c.JSON(http.StatusCreated, t)
	}
}

// replayCreate answers a POST whose Idempotency-Key was already claimed.
func replayCreate(c echo.Context, todos Todos, deduper Deduper, key string) error {
	metrics := metricsFrom(c)
	ctx := c.Request().Context()
	id, ok, err := deduper.Lookup(ctx, key)
	if err != nil {
		metrics.SetErrorStage("idempotency")
		return c.JSON(http.StatusInternalServerError, errorResponse{Message: "idempotency lookup failed"})
	}
	if !ok {
		metrics.SetErrorStage("idempotency")
		return c.JSON(http.StatusConflict, errorResponse{Message: fmt.Sprintf("request with Idempotency-Key %q is in progress", key)})
	}
	t, err := todos.Get(ctx, id)
	if err != nil {
		metrics.SetErrorStage("idempotency")
		return c.JSON(http.StatusConflict, errorResponse{Message: fmt.Sprintf("Todo %d created by Idempotency-Key %q no longer exists", id, key)})
	}
	metrics.SetTaskID(t.ID)
	return c.JSON(http.StatusCreated, t)
}

func updateTodo(todos Todos, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, ok := parseID(c)
		if !ok {
			return notFound(c, c.Param("id"))
		}
		metrics := metricsFrom(c)
		metrics.SetTaskID(id)
		p, ok, err := readPayload(c, updateSchema)
		if !ok {
			return err
		}

		start := time.Now()
		t, err := todos.Update(c.Request().Context(), id, p.patch())
		metrics.ObserveStore(time.Since(start))
		if err != nil {
			return writeError(c, logger, id, err)
		}
		return c.JSON(http.StatusOK, t)
	}
}

func deleteTodo(todos Todos, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, ok := parseID(c)
		if !ok {
			return notFound(c, c.Param("id"))
		}
		metrics := metricsFrom(c)
		metrics.SetTaskID(id)

		start := time.Now()
		err := todos.Delete(c.Request().Context(), id)
		metrics.ObserveStore(time.Since(start))
		if err != nil {
			return writeError(c, logger, id, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func completeTodo(todos Todos, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, ok := parseID(c)
		if !ok {
			return notFound(c, c.Param("id"))
		}
		metrics := metricsFrom(c)
		metrics.SetTaskID(id)

		start := time.Now()
		t, err := todos.Complete(c.Request().Context(), id)
		metrics.ObserveStore(time.Since(start))
		if err != nil {
			return writeError(c, logger, id, err)
		}
		return c.JSON(http.StatusCreated, t)
	}
}

func (p todoPayload) patch() domain.Patch {
	return domain.Patch{Task: p.Task, Description: p.Description, Complete: p.Complete}
}

// readPayload reads at most maxBodySize bytes, validates them against schema
// and decodes the result. When ok is false the error response has already
// been written and err is the result of writing it.
func readPayload(c echo.Context, schema *jsonschema.Schema) (p todoPayload, ok bool, err error) {
	metrics := metricsFrom(c)

	body, readErr := readBody(c.Request().Body)
	if readErr != nil {
		metrics.SetErrorStage("read_body")
		status := http.StatusBadRequest
		if errors.Is(readErr, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		return p, false, c.JSON(status, errorResponse{Message: readErr.Error()})
	}

	var doc any
	if len(body) > 0 {
		if sonic.Unmarshal(body, &doc) != nil {
			metrics.SetErrorStage("decode")
			return p, false, c.JSON(http.StatusBadRequest, errorResponse{Message: msgDecodeFailed})
		}
	}
	if fields := validatePayload(schema, doc); len(fields) > 0 {
		metrics.SetErrorStage("validate")
		return p, false, c.JSON(http.StatusBadRequest, errorResponse{Message: msgValidationFailed, Errors: fields})
	}
	if sonic.Unmarshal(body, &p) != nil {
		metrics.SetErrorStage("decode")
		return p, false, c.JSON(http.StatusBadRequest, errorResponse{Message: msgDecodeFailed})
	}
	return p, true, nil
}

func readBody(r io.Reader) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r, maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxBodySize {
		return nil, errBodyTooLarge
	}
	return body, nil
}

func parseID(c echo.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}

func notFound(c echo.Context, raw string) error {
	metricsFrom(c).SetErrorStage("not_found")
	return c.JSON(http.StatusNotFound, errorResponse{Message: fmt.Sprintf("Todo %s doesn't exist", raw)})
}

// writeError maps directory errors onto responses.
func writeError(c echo.Context, logger *log.Logger, id int64, err error) error {
	metrics := metricsFrom(c)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		metrics.SetErrorStage("not_found")
		return c.JSON(http.StatusNotFound, errorResponse{Message: fmt.Sprintf("Todo %d doesn't exist", id)})
	case errors.Is(err, domain.ErrAlreadyComplete):
		metrics.SetErrorStage("already_complete")
		return c.JSON(http.StatusBadRequest, errorResponse{Message: fmt.Sprintf("Todo %d is already complete", id)})
	default:
		metrics.SetErrorStage("storage")
		logger.WithError(err).WithField("task_id", id).Error("todo store operation failed")
		return c.JSON(http.StatusInternalServerError, errorResponse{Message: msgStorageFailure})
	}
}
