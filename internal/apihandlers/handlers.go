package apihandlers

import (
	"net/http"
	"strconv"

	"taxonomer/internal/app"
	"taxonomer/internal/models"
	"taxonomer/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const generateAcceptedMessage = "Generate Taxonomy Embeddings task sent in the background."

type APIHandler struct {
	App *app.App
}

func NewAPIHandler(app *app.App) *APIHandler {
	return &APIHandler{App: app}
}

// GenerateTaxonomyHandler submits an index build and answers immediately with its task id.
func (h *APIHandler) GenerateTaxonomyHandler(c *gin.Context) {
	var req GenerateTaxonomyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	src := models.SpreadsheetSource{
		SpreadsheetID: req.SpreadsheetID,
		WorksheetName: req.WorksheetName,
		ColumnIndex:   int(req.ColumnIndex),
		Header:        true,
	}
	if req.Header != nil {
		src.Header = bool(*req.Header)
	}

	task, err := h.App.IndexingService.Submit(c.Request.Context(), src)
	if err != nil {
		log.Errorf("GenerateTaxonomyHandler: %v", err)
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, GenerateTaxonomyResponse{TaskID: task.ID.String(), Message: generateAcceptedMessage})
}

func (h *APIHandler) TaskStatusHandler(c *gin.Context) {
	id, err := uuid.Parse(c.Param("task_id"))
	if err != nil {
		BadRequest(c, "Invalid task id: "+c.Param("task_id"))
		return
	}
	task, err := h.App.TaskService.GetStatus(c.Request.Context(), id)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *APIHandler) ListTasksHandler(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		BadRequest(c, "limit must be a positive integer")
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		BadRequest(c, "offset must be a non-negative integer")
		return
	}
	tasks, err := h.App.TaskService.ListTasks(c.Request.Context(), limit, offset)
	if err != nil {
		RespondError(c, err)
		return
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	c.JSON(http.StatusOK, tasks)
}

// ClassifyHandler classifies every text and media URI in the request. Texts are listed
// before media in the response, each in request order.
func (h *APIHandler) ClassifyHandler(c *gin.Context) {
	var req ClassifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	if len(req.Text) == 0 && len(req.MediaURI) == 0 {
		BadRequest(c, "at least one of text or media_uri is required")
		return
	}

	inputs := make([]services.ClassifyInput, 0, len(req.Text)+len(req.MediaURI))
	for _, t := range req.Text {
		inputs = append(inputs, services.ClassifyInput{Text: t})
	}
	for _, uri := range req.MediaURI {
		inputs = append(inputs, services.ClassifyInput{MediaURI: uri})
	}

	results, err := h.App.ClassificationService.Classify(c.Request.Context(), inputs, bool(req.Embeddings))
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

func (h *APIHandler) HealthHandler(c *gin.Context) {
	resp := HealthResponse{Status: "ok", Database: "ok"}
	status := http.StatusOK
	if err := h.App.Store.Ping(c.Request.Context()); err != nil {
		resp.Status, resp.Database = "degraded", err.Error()
		status = http.StatusServiceUnavailable
	}
	if snap := h.App.Index.Snapshot(); snap != nil {
		id := snap.GenerationID().String()
		resp.GenerationID = &id
		resp.Categories = snap.Len()
	}
	c.JSON(status, resp)
}
