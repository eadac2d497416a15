package controller

import (
	"context"
	"net/http"
	"time"

	"geosewa_exam/internal/repository"
	"geosewa_exam/internal/util"

	"github.com/gin-gonic/gin"
)

type HealthController struct {
	Store   repository.KVStore
	Backend string
}

func NewHealthController(store repository.KVStore, backend string) *HealthController {
	return &HealthController{Store: store, Backend: backend}
}

// @Summary Health check
// @Description Reports service status and answer cache reachability
// @Tags system
// @Produce json
// @Success 200 {object} util.Response
// @Failure 503 {object} util.Response
// @Router /health [get]
func (c *HealthController) HealthCheck(ctx *gin.Context) {
	pingCtx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
	defer cancel()

	if err := c.Store.Ping(pingCtx); err != nil {
		util.Error(ctx, http.StatusServiceUnavailable, "Answer cache unavailable")
		return
	}

	util.Success(ctx, gin.H{
		"status": "ok",
		"components": gin.H{
			"answer_cache": c.Backend,
		},
	})
}
