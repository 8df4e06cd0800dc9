package controlplane

import (
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

// httpStats backs the runtime.http block of GET /v1/status: cumulative
// bytes sent/received across every control-plane request, plus the most
// recent handler error.
type httpStats struct {
	bytesSent atomic.Int64
	bytesRecv atomic.Int64
	lastError atomic.Pointer[string]
}

func (s *httpStats) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if n := c.Request.ContentLength; n > 0 {
			s.bytesRecv.Add(n)
		}
		c.Next()

		s.bytesSent.Add(int64(c.Writer.Size()))
		if len(c.Errors) > 0 {
			msg := c.Errors.String()
			s.lastError.Store(&msg)
		}
	}
}

func (s *httpStats) snapshot() runtimeHTTP {
	var lastErr string
	if p := s.lastError.Load(); p != nil {
		lastErr = *p
	}
	return runtimeHTTP{
		BytesSentTotal: s.bytesSent.Load(),
		BytesRecvTotal: s.bytesRecv.Load(),
		LastError:      lastErr,
	}
}
