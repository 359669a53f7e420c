package httpapi

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/campusfix/backend/internal/config"
	"github.com/campusfix/backend/internal/http/handlers"
	"github.com/campusfix/backend/internal/http/middleware"
	"github.com/campusfix/backend/internal/seen"
	"github.com/campusfix/backend/internal/service"
	"github.com/campusfix/backend/internal/store"

	_ "github.com/campusfix/backend/docs"
)

type Services struct {
	Assigner  *service.AssignmentService
	Processor *service.ProcessingService
	Delayed   *service.DelayedService
	Workload  *service.WorkloadService
}

func Router(cfg config.Config, st store.Store, svc Services, tracked seen.Store, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Admin-Key", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "*" || cfg.CORSAllowed == "" {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = splitOrigins(cfg.CORSAllowed)
	}
	r.Use(cors.New(corsCfg))

	h := &handlers.Handler{
		Store:     st,
		Assigner:  svc.Assigner,
		Processor: svc.Processor,
		Delayed:   svc.Delayed,
		Workload:  svc.Workload,
		Seen:      tracked,
		Validator: validator.New(),
		Logger:    logger,
		AdminKey:  cfg.AdminKey,
	}

	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")
	{
		api.GET("/technicians", h.TechniciansList)
		api.GET("/technicians/available", h.TechniciansAvailable)
		api.GET("/technicians/of-the-week", h.TechnicianOfTheWeek)
		api.GET("/requests/:kind", h.RequestsList)
	}

	admin := api.Group("")
	admin.Use(middleware.AdminKey(cfg.AdminKey))
	{
		admin.POST("/requests/:kind/:id/auto-assign", h.AutoAssign)
		admin.POST("/requests/:kind/:id/assign", h.Assign)
		admin.POST("/requests/:kind/:id/complete", h.Complete)
		admin.POST("/requests/:kind/:id/decline", h.Decline)
		admin.POST("/process", h.Process)
		admin.POST("/delayed/scan", h.DelayedScan)
		admin.DELETE("/delayed/seen", h.DelayedSeenClear)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}

func splitOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
