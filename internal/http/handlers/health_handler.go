package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status" example:"ok"`
	Version string `json:"version" example:"1.0.0"`
}

// Health godoc
// @ID       health
// @Summary  Liveness probe
// @Tags     Health
// @Produce  json
// @Success  200  {object}  handlers.HealthResponse
// @Router   /health [get]
func (h *Handlers) Health(c *gin.Context) {
	ok(c, http.StatusOK, HealthResponse{Status: "ok", Version: h.opts.Version})
}
