package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/immxrtalbeast/watchparty/internal/service"
)

type ContentController struct {
	reactions service.ReactionSearcher
	catalog   service.ContentCatalog
}

func NewContentController(reactions service.ReactionSearcher, catalog service.ContentCatalog) *ContentController {
	return &ContentController{reactions: reactions, catalog: catalog}
}

func queryInt(ctx *gin.Context, key string, def int) int {
	raw := ctx.Query(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// SearchReactions never fails: an empty query yields trending media.
func (c *ContentController) SearchReactions(ctx *gin.Context) {
	limit := queryInt(ctx, "limit", 0)
	q := ctx.Query("q")
	if q == "" {
		ctx.JSON(http.StatusOK, c.reactions.Trending(ctx.Request.Context(), limit))
		return
	}
	ctx.JSON(http.StatusOK, c.reactions.Search(ctx.Request.Context(), q, limit))
}

func (c *ContentController) TrendingReactions(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, c.reactions.Trending(ctx.Request.Context(), queryInt(ctx, "limit", 0)))
}

func (c *ContentController) EmotionReactions(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, c.reactions.MovieReaction(ctx.Request.Context(), ctx.Param("emotion"), queryInt(ctx, "limit", 0)))
}

func (c *ContentController) SearchContent(ctx *gin.Context) {
	resp, err := c.catalog.Search(ctx.Request.Context(), ctx.Query("q"), queryInt(ctx, "page", 1))
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, resp)
}

func (c *ContentController) GetContent(ctx *gin.Context) {
	details, err := c.catalog.GetDetails(ctx.Request.Context(), ctx.Param("contentID"))
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"content": details})
}

func (c *ContentController) GetSimilar(ctx *gin.Context) {
	resp, err := c.catalog.GetSimilar(ctx.Request.Context(), ctx.Param("contentID"), queryInt(ctx, "page", 1))
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, resp)
}

func (c *ContentController) GetRecommendations(ctx *gin.Context) {
	resp, err := c.catalog.GetRecommendations(ctx.Request.Context(), ctx.Param("contentID"), queryInt(ctx, "page", 1))
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, resp)
}
