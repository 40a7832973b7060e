package router

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/weibaohui/voicechef/backend/config"
	"github.com/weibaohui/voicechef/backend/internal/embed"
	"github.com/weibaohui/voicechef/backend/internal/handler"
)

// eventsPath SSE 长连接，不能经过 gzip 缓冲
const eventsPath = "/api/voice/events"

func Setup(cfg *config.Config, voiceHandler *handler.VoiceHandler) *gin.Engine {
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
	}))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{eventsPath})))

	api := r.Group("/api")
	{
		voiceHandler.RegisterRoutes(api)
	}

	// 设置前端静态文件路由（嵌入式）
	// 必须在API路由之后设置，确保API请求优先匹配
	embed.SetupRouter(r)

	return r
}
