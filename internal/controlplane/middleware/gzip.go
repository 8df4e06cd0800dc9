package middleware

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

var excludedExtensions = []string{
	".png", ".gif", ".jpeg", ".jpg", ".zip", ".tar.gz",
}

// Gzip compresses control-plane responses above gzip's internal size
// threshold; upload-status payloads from a large datasite can otherwise
// run to hundreds of KB of JSON.
func Gzip() gin.HandlerFunc {
	return gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedExtensions(excludedExtensions))
}
