package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"task-planner/internal/logger"
	"task-planner/internal/model"
	"task-planner/internal/repository"
	"task-planner/internal/service"
)

const maxUpcomingHours = 24 * 30

// TaskHandler handles task-related requests.
type TaskHandler struct {
	tasks  *service.TaskService
	report *service.DeadlineReport
	logger *logger.Logger
}

func NewTaskHandler(tasks *service.TaskService, report *service.DeadlineReport, logger *logger.Logger) *TaskHandler {
	return &TaskHandler{tasks: tasks, report: report, logger: logger}
}

// CreateTask handles task creation. The response says whether the owner was
// notified; a failed notice does not fail the request.
func (h *TaskHandler) CreateTask(c echo.Context) error {
	var req service.CreateTaskInput
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request format")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	result, err := h.tasks.Create(c.Request().Context(), userID(c), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, result)
}

func (h *TaskHandler) ListTasks(c echo.Context) error {
	var filter repository.TaskFilter

	if raw := c.QueryParam("priority"); raw != "" {
		p := model.Priority(raw)
		if !p.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown priority "+strconv.Quote(raw))
		}
		filter.Priority = &p
	}
	if raw := c.QueryParam("category"); raw != "" {
		cat := model.Category(raw)
		if !cat.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown category "+strconv.Quote(raw))
		}
		filter.Category = &cat
	}
	if raw := c.QueryParam("completed"); raw != "" {
		completed, err := strconv.ParseBool(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "completed must be true or false")
		}
		filter.Completed = &completed
	}

	tasks, err := h.tasks.List(c.Request().Context(), userID(c), filter)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{
		"count": len(tasks),
		"tasks": tasks,
	})
}

// Upcoming lists open tasks whose deadline falls within the next hours.
func (h *TaskHandler) Upcoming(c echo.Context) error {
	hours := 24
	if raw := c.QueryParam("hours"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxUpcomingHours {
			return echo.NewHTTPError(http.StatusBadRequest, "hours must be between 1 and "+strconv.Itoa(maxUpcomingHours))
		}
		hours = n
	}

	tasks, now, err := h.report.Upcoming(c.Request().Context(), userID(c), time.Duration(hours)*time.Hour)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{
		"count": len(tasks),
		"hours": hours,
		"now":   now.UTC(),
		"tasks": tasks,
	})
}

func (h *TaskHandler) GetTask(c echo.Context) error {
	task, err := h.tasks.Get(c.Request().Context(), userID(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, task)
}

// UpdateTask applies a partial update. Sending "completed" here has the
// same effects as toggling.
func (h *TaskHandler) UpdateTask(c echo.Context) error {
	var req service.UpdateTaskInput
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request format")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	task, err := h.tasks.Update(c.Request().Context(), userID(c), c.Param("id"), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) ToggleComplete(c echo.Context) error {
	task, err := h.tasks.Toggle(c.Request().Context(), userID(c), c.Param("id"))
	if err != nil {
		return err
	}
	h.logger.Infow("task toggled", "task_id", task.ID, "completed", task.Completed)
	return c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) DeleteTask(c echo.Context) error {
	if err := h.tasks.Delete(c.Request().Context(), userID(c), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
