package controlplane

import "github.com/gin-gonic/gin"

// AbortWithError records err on the gin context (for logging middleware)
// and writes the standard ControlPlaneError body.
func AbortWithError(c *gin.Context, status int, code string, err error) {
	c.Abort()
	c.Error(err)
	c.PureJSON(status, ControlPlaneError{ErrorCode: code, Error: err.Error()})
}
