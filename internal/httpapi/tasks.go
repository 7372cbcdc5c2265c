package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"call-scheduler/internal/assistants"
	"call-scheduler/internal/auth"
	"call-scheduler/internal/rbac"
	"call-scheduler/internal/reporting"
	"call-scheduler/internal/tasks"

	"github.com/gin-gonic/gin"
)

type createTaskRequest struct {
	ContactID         string    `json:"contact_id"`
	OpenAIAssistantID string    `json:"openai_assistant_id"`
	GeminiAssistantID string    `json:"gemini_assistant_id"`
	ScheduledTime     time.Time `json:"scheduled_time"`
	Title             string    `json:"title"`
	Description       string    `json:"description"`
	CustomGreeting    string    `json:"custom_greeting"`
}

// updateTaskRequest is a partial edit. Setting either assistant id replaces
// the whole assistant reference.
type updateTaskRequest struct {
	ContactID         *string    `json:"contact_id"`
	OpenAIAssistantID *string    `json:"openai_assistant_id"`
	GeminiAssistantID *string    `json:"gemini_assistant_id"`
	ScheduledTime     *time.Time `json:"scheduled_time"`
	Title             *string    `json:"title"`
	Description       *string    `json:"description"`
	CustomGreeting    *string    `json:"custom_greeting"`
}

// CreateTask serves both the tenant API and the internal endpoint the
// assistant runtime calls; the caller's role decides created_by.
func (h Handlers) CreateTask(c *gin.Context) {
	if h.Tasks == nil {
		notConfigured(c, "tasks")
		return
	}
	tenantID, ok := tenantOf(c)
	if !ok {
		return
	}
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	createdBy := tasks.CreatedByUser
	if _, role := actor(c); auth.IsService(c.Request.Context()) || rbac.IsHiddenRole(role) {
		createdBy = tasks.CreatedByAssistant
	}

	t, err := h.Tasks.CreateTask(c.Request.Context(), tasks.CreateTaskInput{
		TenantID:  tenantID,
		ContactID: req.ContactID,
		Assistant: assistants.Ref{
			OpenAIAssistantID: req.OpenAIAssistantID,
			GeminiAssistantID: req.GeminiAssistantID,
		},
		ScheduledTime:  req.ScheduledTime,
		Title:          req.Title,
		Description:    req.Description,
		CustomGreeting: req.CustomGreeting,
		CreatedBy:      createdBy,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (h Handlers) UpdateTask(c *gin.Context) {
	if h.Tasks == nil {
		notConfigured(c, "tasks")
		return
	}
	tenantID, ok := tenantOf(c)
	if !ok {
		return
	}
	var req updateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	in := tasks.UpdateTaskInput{
		ContactID:      req.ContactID,
		ScheduledTime:  req.ScheduledTime,
		Title:          req.Title,
		Description:    req.Description,
		CustomGreeting: req.CustomGreeting,
	}
	if req.OpenAIAssistantID != nil || req.GeminiAssistantID != nil {
		ref := assistants.Ref{}
		if req.OpenAIAssistantID != nil {
			ref.OpenAIAssistantID = *req.OpenAIAssistantID
		}
		if req.GeminiAssistantID != nil {
			ref.GeminiAssistantID = *req.GeminiAssistantID
		}
		in.Assistant = &ref
	}

	t, err := h.Tasks.UpdateTask(c.Request.Context(), tenantID, c.Param("id"), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h Handlers) CancelTask(c *gin.Context) {
	if h.Tasks == nil {
		notConfigured(c, "tasks")
		return
	}
	tenantID, ok := tenantOf(c)
	if !ok {
		return
	}
	if err := h.Tasks.CancelTask(c.Request.Context(), tenantID, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "status": tasks.StatusCancelled})
}

func (h Handlers) DeleteTask(c *gin.Context) {
	if h.Tasks == nil {
		notConfigured(c, "tasks")
		return
	}
	tenantID, ok := tenantOf(c)
	if !ok {
		return
	}
	if err := h.Tasks.DeleteTask(c.Request.Context(), tenantID, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h Handlers) GetTask(c *gin.Context) {
	if h.Tasks == nil {
		notConfigured(c, "tasks")
		return
	}
	tenantID, ok := tenantOf(c)
	if !ok {
		return
	}
	t, err := h.Tasks.GetTask(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// ListTasks accepts status, from, to (RFC 3339) and limit query parameters.
func (h Handlers) ListTasks(c *gin.Context) {
	if h.Tasks == nil {
		notConfigured(c, "tasks")
		return
	}
	tenantID, ok := tenantOf(c)
	if !ok {
		return
	}
	f := tasks.ListFilter{TenantID: tenantID, Status: tasks.Status(c.Query("status"))}
	var err error
	if f.From, err = parseTimeQuery(c, "from"); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC 3339"})
		return
	}
	if f.To, err = parseTimeQuery(c, "to"); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC 3339"})
		return
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		f.Limit = n
	}

	out, err := h.Tasks.ListTasks(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": out})
}

// TaskSummary reports outcome counts; the window defaults to the last 30 days.
func (h Handlers) TaskSummary(c *gin.Context) {
	if h.Reporting == nil {
		notConfigured(c, "reporting")
		return
	}
	tenantID, ok := tenantOf(c)
	if !ok {
		return
	}
	to, err := parseTimeQuery(c, "to")
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC 3339"})
		return
	}
	from, err := parseTimeQuery(c, "from")
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC 3339"})
		return
	}
	if to.IsZero() {
		to = time.Now().UTC()
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -30)
	}

	out, err := h.Reporting.TaskSummary(c.Request.Context(), reporting.TaskSummaryRequest{
		TenantID: tenantID,
		Range:    reporting.TimeRange{From: from, To: to},
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func parseTimeQuery(c *gin.Context, key string) (time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}
