package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Mutter0815/BulkMailer/docs"
	"github.com/Mutter0815/BulkMailer/internal/auth"
	"github.com/Mutter0815/BulkMailer/pkg/metrics"
)

func NewHTTPServer(addr string, h *Handlers, v auth.Verifier) *http.Server {
	r := gin.New()
	r.Use(gin.Recovery(), Observability())

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/docs", serveSwagger)
	r.GET("/docs/campaign-api/openapi.yaml", serveOpenAPI)

	api := r.Group("/api", RequireAuth(v))
	api.GET("/test-auth", h.TestAuth)
	api.POST("/send-emails", h.SendEmails)
	api.GET("/campaigns", h.ListCampaigns)
	api.GET("/campaigns/:id/status", h.CampaignStatus)
	api.GET("/dashboard/stats", h.DashboardStats)
	api.GET("/email-settings", h.GetEmailSettings)
	api.POST("/email-settings", h.SaveEmailSettings)
	api.GET("/templates", h.ListTemplates)
	api.POST("/templates", h.CreateTemplate)
	api.PUT("/templates/:id", h.UpdateTemplate)
	api.DELETE("/templates/:id", h.DeleteTemplate)

	return &http.Server{
		Addr:    addr,
		Handler: r,
	}
}

func serveSwagger(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", docs.CampaignSwaggerHTML)
}

func serveOpenAPI(c *gin.Context) {
	c.Data(http.StatusOK, "application/yaml", docs.CampaignOpenAPI)
}
