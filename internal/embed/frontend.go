package embed

import (
	"embed"
	"io/fs"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

//go:embed ui/*
var embeddedFiles embed.FS

// GetFrontendFS 获取前端文件系统（用于嵌入）
func GetFrontendFS() fs.FS {
	return embeddedFiles
}

// SetupRouter 设置浏览器语音客户端路由
// 浏览器负责麦克风识别和语音合成，通过 /api/voice 的桥接接口回填结果
func SetupRouter(r *gin.Engine) {
	frontendFS := GetFrontendFS()

	r.GET("/app.js", func(c *gin.Context) {
		script, err := fs.ReadFile(frontendFS, "ui/app.js")
		if err != nil {
			c.Status(http.StatusNotFound)
			return
		}
		c.Data(http.StatusOK, "application/javascript; charset=utf-8", script)
	})

	r.NoRoute(func(c *gin.Context) {
		// 对于API请求，返回404
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}

		indexHTML, err := fs.ReadFile(frontendFS, "ui/index.html")
		if err != nil {
			c.String(http.StatusInternalServerError, "Failed to load index.html")
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
	})
}
