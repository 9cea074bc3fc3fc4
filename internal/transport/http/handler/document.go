package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"paperquote/internal/app"
	"paperquote/internal/model"
	"paperquote/internal/transport/http/middleware"
	"paperquote/internal/transport/http/response"
)

// DocumentHandler accepts PDF uploads and exposes ingestion job state. An
// upload returns 202 with the queued job; clients poll the job endpoint to
// learn when their document becomes queryable.
type DocumentHandler struct {
	ingestService *app.IngestService
	maxPDFBytes   int64
}

func NewDocumentHandler(ingestService *app.IngestService, maxPDFSizeMB int) *DocumentHandler {
	if maxPDFSizeMB <= 0 {
		maxPDFSizeMB = 20
	}
	return &DocumentHandler{
		ingestService: ingestService,
		maxPDFBytes:   int64(maxPDFSizeMB) << 20,
	}
}

func (h *DocumentHandler) Upload(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "user not found in token")
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing file field")
		return
	}
	if fileHeader.Size > h.maxPDFBytes {
		response.Error(c, http.StatusRequestEntityTooLarge, response.CodePayloadTooLarge,
			fmt.Sprintf("file exceeds %d MB limit", h.maxPDFBytes>>20))
		return
	}
	if !strings.HasSuffix(strings.ToLower(fileHeader.Filename), ".pdf") {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "only .pdf files are accepted")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "open uploaded file failed")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxPDFBytes+1))
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "read uploaded file failed")
		return
	}
	if int64(len(data)) > h.maxPDFBytes {
		response.Error(c, http.StatusRequestEntityTooLarge, response.CodePayloadTooLarge,
			fmt.Sprintf("file exceeds %d MB limit", h.maxPDFBytes>>20))
		return
	}

	result, err := h.ingestService.Submit(c.Request.Context(), app.SubmitInput{
		UserID:   userID,
		Title:    c.PostForm("title"),
		Filename: fileHeader.Filename,
		Data:     data,
	})
	if err != nil {
		if errors.Is(err, app.ErrInvalidInput) {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
			return
		}
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "submit document failed")
		return
	}

	c.JSON(http.StatusAccepted, response.APIResponse{
		Code:    response.CodeOK,
		Message: "ok",
		Data:    result,
	})
}

func (h *DocumentHandler) List(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "user not found in token")
		return
	}

	docs, err := h.ingestService.ListDocuments(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list documents failed")
		return
	}
	response.OK(c, gin.H{"documents": docs})
}

// Resubmit queues a fresh job for a document whose last job died. The old
// job stays dead; recovery is always a new job.
func (h *DocumentHandler) Resubmit(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "user not found in token")
		return
	}
	documentID, err := parseUintParam(c, "id")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid document id")
		return
	}

	job, err := h.ingestService.Resubmit(c.Request.Context(), userID, documentID)
	if err != nil {
		if errors.Is(err, app.ErrDocumentNotFound) {
			response.Error(c, http.StatusNotFound, response.CodeNotFound, err.Error())
			return
		}
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "resubmit document failed")
		return
	}

	c.JSON(http.StatusAccepted, response.APIResponse{
		Code:    response.CodeOK,
		Message: "ok",
		Data:    gin.H{"job": job},
	})
}

func (h *DocumentHandler) GetJob(c *gin.Context) {
	jobID, err := parseUintParam(c, "id")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid job id")
		return
	}

	job, err := h.ingestService.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, app.ErrJobNotFound) {
			response.Error(c, http.StatusNotFound, response.CodeNotFound, err.Error())
			return
		}
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "fetch job failed")
		return
	}
	response.OK(c, gin.H{"job": job})
}

func (h *DocumentHandler) ListJobs(c *gin.Context) {
	state := strings.ToLower(strings.TrimSpace(c.Query("state")))
	if state != "" && !model.JobState(state).Valid() {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "unknown job state")
		return
	}

	jobs, err := h.ingestService.ListJobs(c.Request.Context(), state)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list jobs failed")
		return
	}
	response.OK(c, gin.H{"jobs": jobs})
}

func parseUintParam(c *gin.Context, name string) (uint, error) {
	raw := c.Param(name)
	parsed, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || parsed == 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return uint(parsed), nil
}
