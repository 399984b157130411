package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/facegroups/internal/api/handlers"
	"github.com/your-org/facegroups/internal/api/ws"
	"github.com/your-org/facegroups/internal/auth"
	"github.com/your-org/facegroups/internal/runlock"
)

// Store is everything the HTTP layer reads and writes.
// storage.PostgresStore satisfies it.
type Store interface {
	handlers.ImageStore
	handlers.FaceStore
}

// Engine runs both clustering modes.
type Engine interface {
	handlers.IncrementalRunner
	handlers.BatchRunner
}

type RouterConfig struct {
	APIKey         string
	JWTSecret      string
	MaxUploadBytes int64

	Store      Store
	Blobs      handlers.BlobStore
	Thumbnails handlers.ThumbnailKeyer
	Queue      handlers.IngestPublisher
	Events     handlers.EventPublisher
	Engine     Engine
	Locker     runlock.Locker
	Hub        *ws.Hub
	Checks     map[string]handlers.Check
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())
	if cfg.MaxUploadBytes > 0 {
		r.MaxMultipartMemory = cfg.MaxUploadBytes
	}

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Checks)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (owner scoped)
	v1 := r.Group("/v1")
	v1.Use(auth.OwnerMiddleware(cfg.JWTSecret))

	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	// Images
	imageH := handlers.NewImageHandler(cfg.Store, cfg.Blobs, cfg.Queue, cfg.Thumbnails)
	imageH.MaxUploadBytes = cfg.MaxUploadBytes
	v1.POST("/images", imageH.Upload)
	v1.GET("/images", imageH.List)
	v1.GET("/images/:id", imageH.Get)
	v1.GET("/images/:id/file", imageH.File)
	v1.POST("/images/:id/copy", imageH.Copy)
	v1.DELETE("/images/:id", imageH.Delete)
	v1.POST("/images/:id/restore", imageH.Restore)
	v1.DELETE("/images/:id/permanent", imageH.DeletePermanent)
	v1.GET("/recycle", imageH.RecycleBin)

	// Faces
	faceH := handlers.NewFaceHandler(cfg.Store, cfg.Blobs, cfg.Thumbnails, cfg.Engine, cfg.Locker, cfg.Events)
	v1.GET("/faces/groups", faceH.Groups)
	v1.POST("/faces/cluster", faceH.Cluster)
	v1.GET("/faces/clusters/:id", faceH.Group)
	v1.POST("/faces/clusters/:id/rename", faceH.Rename)
	v1.GET("/faces/thumbnails/:imageId", faceH.Thumbnail)

	// Admin
	admin := r.Group("/admin")
	admin.Use(auth.APIKeyMiddleware(cfg.APIKey))
	adminH := handlers.NewAdminHandler(cfg.Engine, cfg.Locker)
	admin.POST("/faces/rebuild", adminH.Rebuild)

	return r
}
