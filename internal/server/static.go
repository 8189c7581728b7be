package server

import (
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
)

// StaticHandler serves the operator web UI. GET only; paths containing ".."
// are rejected before touching the filesystem.
func StaticHandler(dir string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Status(http.StatusMethodNotAllowed)
			return
		}

		reqPath := c.Request.URL.Path
		if strings.Contains(reqPath, "..") {
			c.Status(http.StatusNotFound)
			return
		}
		if reqPath == "/" || reqPath == "" {
			reqPath = "/index.html"
		}

		full := filepath.Join(dir, filepath.FromSlash(path.Clean(reqPath)))
		data, err := os.ReadFile(full)
		if err != nil {
			if os.IsNotExist(err) {
				c.Status(http.StatusNotFound)
				return
			}
			c.Status(http.StatusInternalServerError)
			return
		}

		contentType := mime.TypeByExtension(filepath.Ext(full))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		c.Data(http.StatusOK, contentType, data)
	}
}
