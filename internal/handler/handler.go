package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"invoice-sync-go/internal/model"
	"invoice-sync-go/internal/models"
)

// JobRunner is the scheduler surface the handlers drive
type JobRunner interface {
	RunNow(ctx context.Context) models.CycleResult
	Start() (models.JobStatus, error)
	Stop() models.JobStatus
	Status() models.JobStatus
}

// DocumentProcessor handles uploaded PDFs
type DocumentProcessor interface {
	ProcessSingleDocument(ctx context.Context, path string, meta models.Metadata) models.CycleResult
}

// JournalStore reads the processing journal and manages search terms
type JournalStore interface {
	ListMessages(page, pageSize int, status string) ([]model.ProcessedMessage, int64, error)
	GetMessage(id uint) (*model.ProcessedMessage, error)
	GetAllTerms() ([]model.SearchTerm, error)
	CreateTerm(term string, enabled bool) (*model.SearchTerm, error)
	DeleteTerm(id uint) error
}

// Settings carries the configuration facts reported by /status
type Settings struct {
	LedgerPath           string
	PDFDir               string
	MailboxConfigured    bool
	ExtractionConfigured bool
}

// Handlers contains all HTTP handlers
type Handlers struct {
	db       *gorm.DB
	store    JournalStore
	jobs     JobRunner
	docs     DocumentProcessor
	settings Settings
}

// NewHandlers creates new HTTP handlers. db and store may be nil when the
// journal is disabled.
func NewHandlers(db *gorm.DB, store JournalStore, jobs JobRunner, docs DocumentProcessor, settings Settings) *Handlers {
	return &Handlers{
		db:       db,
		store:    store,
		jobs:     jobs,
		docs:     docs,
		settings: settings,
	}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	{
		api.POST("/process", h.Process)
		api.POST("/upload", h.Upload)
		api.GET("/ledger", h.DownloadLedger)
		api.GET("/status", h.GetStatus)

		api.POST("/job/start", h.StartJob)
		api.POST("/job/stop", h.StopJob)
		api.GET("/job/status", h.GetJobStatus)

		api.GET("/logs", h.GetLogs)
		api.GET("/logs/:id", h.GetLog)

		api.GET("/search-terms", h.GetSearchTerms)
		api.POST("/search-terms", h.CreateSearchTerm)
		api.DELETE("/search-terms/:id", h.DeleteSearchTerm)
	}
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Database:  "disabled",
		Scheduler: "stopped",
	}

	if h.db != nil {
		response.Database = "ok"
		sqlDB, err := h.db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			response.Status = "error"
			response.Database = "error"
			logrus.Errorf("Database health check failed: %v", err)
		}
	}

	if job := h.jobs.Status(); job.Running {
		response.Scheduler = "running"
		response.NextRun = job.NextRun
	}

	statusCode := http.StatusOK
	if response.Status == "error" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}

func (h *Handlers) journalDisabled(c *gin.Context) bool {
	if h.store != nil {
		return false
	}
	c.JSON(http.StatusServiceUnavailable, ErrorResponse{
		Error:   "journal_disabled",
		Message: "Processing journal is not configured",
		Code:    http.StatusServiceUnavailable,
	})
	return true
}
