package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"paperquote/internal/app"
	"paperquote/internal/transport/http/response"
)

// QueryHandler exposes the retrieval pipeline: /retrieve returns the
// ranked chunks with both stage scores, /ask adds the verbatim extraction
// step on top.
type QueryHandler struct {
	pipeline *app.PipelineService
}

func NewQueryHandler(pipeline *app.PipelineService) *QueryHandler {
	return &QueryHandler{pipeline: pipeline}
}

type QueryRequest struct {
	Text          string `json:"text" binding:"required"`
	SectionFilter string `json:"section_filter"`
	TopKStage1    int    `json:"top_k_stage1"`
	TopKStage2    int    `json:"top_k_stage2"`
}

func (r QueryRequest) toQuery() app.Query {
	return app.Query{
		Text:          r.Text,
		SectionFilter: r.SectionFilter,
		TopKStage1:    r.TopKStage1,
		TopKStage2:    r.TopKStage2,
	}
}

func (h *QueryHandler) Retrieve(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	out, err := h.pipeline.Retrieve(c.Request.Context(), req.toQuery())
	if err != nil {
		if errors.Is(err, app.ErrInvalidQuery) {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
			return
		}
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "retrieval failed")
		return
	}
	response.OK(c, out)
}

func (h *QueryHandler) Ask(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.pipeline.Ask(c.Request.Context(), req.toQuery())
	if err != nil {
		if errors.Is(err, app.ErrInvalidQuery) {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
			return
		}
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "query failed")
		return
	}
	response.OK(c, result)
}
