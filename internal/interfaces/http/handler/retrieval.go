// Package handler 提供 HTTP 请求处理器
package handler

import (
	"github.com/gin-gonic/gin"

	"timeline-rag-api/internal/interfaces/http/dto"
)

// QueryHandler 问答与检索处理器
type QueryHandler struct {
	asker    QuestionAnswerer
	searcher Searcher
}

// NewQueryHandler 创建问答处理器
func NewQueryHandler(asker QuestionAnswerer, searcher Searcher) *QueryHandler {
	return &QueryHandler{asker: asker, searcher: searcher}
}

// Query 多步推理问答
// @Summary 问答
// @Description 多步推理回答关于已入库文档的问题
// @Tags Query
// @Accept json
// @Produce json
// @Param body body dto.QueryRequest true "问题"
// @Success 200 {object} dto.Response[dto.QueryResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Router /v1/query [post]
func (h *QueryHandler) Query(c *gin.Context) {
	var req dto.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	ans, err := h.asker.Ask(c.Request.Context(), tenantOf(c), req.Question, req.MaxAttempts)
	if err != nil {
		fail(c, "query", err)
		return
	}
	dto.Success(c, dto.ToQueryResponse(ans))
}

// Search 混合检索
// @Summary 混合检索
// @Description 返回关键词与向量检索拼接的结果块
// @Tags Query
// @Accept json
// @Produce json
// @Param body body dto.SearchRequest true "检索请求"
// @Success 200 {object} dto.Response[dto.SearchResponse]
// @Router /v1/retrieval/search [post]
func (h *QueryHandler) Search(c *gin.Context) {
	var req dto.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	blocks, err := h.searcher.SearchBlocks(c.Request.Context(), tenantOf(c), req.Query)
	if err != nil {
		fail(c, "search", err)
		return
	}
	if blocks == nil {
		blocks = []string{}
	}
	dto.Success(c, &dto.SearchResponse{Blocks: blocks})
}
