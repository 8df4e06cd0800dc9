package controlplane

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opensync/syftboxd/internal/version"
)

type statusHandler struct {
	stats *httpStats
}

func newStatusHandler(stats *httpStats) *statusHandler {
	return &statusHandler{stats: stats}
}

// Status handles GET /v1/status.
func (h *statusHandler) Status(c *gin.Context) {
	c.PureJSON(http.StatusOK, StatusResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   version.Version,
		Revision:  version.Revision,
		BuildDate: version.BuildDate,
		Runtime:   runtimeInfo{HTTP: h.stats.snapshot()},
	})
}
