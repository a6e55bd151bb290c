package api

import (
	"errors"
	"log"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"khmerscribe/internal/lifecycle"
	"khmerscribe/internal/metrics"
	"khmerscribe/internal/model"
	"khmerscribe/internal/repository"
	"khmerscribe/internal/storage"
	"khmerscribe/internal/stt"
	"khmerscribe/internal/utils"
)

// maxUploadSize caps multipart uploads handled by the server itself
const maxUploadSize = 200 << 20

const genericErrorMessage = "Server errored out during transcription request"

// Handlers serves the transcription endpoints
type Handlers struct {
	manager  *lifecycle.Manager
	uploads  *storage.LocalStore
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
}

// NewHandlers creates the HTTP handlers. uploads and gatherer are optional;
// without them the upload and metrics routes are not registered.
func NewHandlers(manager *lifecycle.Manager, uploads *storage.LocalStore, m *metrics.Metrics, gatherer prometheus.Gatherer) *Handlers {
	return &Handlers{
		manager:  manager,
		uploads:  uploads,
		metrics:  m,
		gatherer: gatherer,
	}
}

func RegisterRoutes(r *gin.Engine, h *Handlers) {
	r.Use(metricsMiddleware(h.metrics))

	r.GET("/health", healthCheck)
	r.GET("/wake-up/", wakeUp)

	r.POST("/request-transcribe/", h.transcribe)
	r.POST("/resume-request/", h.resumeRequest)
	r.POST("/check-status/", h.checkStatus)

	if h.uploads != nil {
		r.POST("/uploads/", h.uploadAudio)
	}
	if h.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}
}

// healthCheck returns server health status
func healthCheck(c *gin.Context) {
	utils.Success(c, gin.H{
		"status":  "ok",
		"service": "khmerscribe",
	})
}

// wakeUp lets a sleeping host spin up before the client starts a transcription
func wakeUp(c *gin.Context) {
	c.String(http.StatusOK, "transcription World! Waking up")
}

// transcribeBody is the request record as sent by the client
type transcribeBody struct {
	ID               string       `json:"id"`
	UserID           string       `json:"user_id" binding:"required"`
	Filename         string       `json:"filename" binding:"required"`
	FileLastModified int64        `json:"file_last_modified"`
	FilePath         string       `json:"file_path"`
	Base64           string       `json:"base64"`
	FileType         string       `json:"file_type"`
	FileSize         int64        `json:"file_size" binding:"gte=0"`
	OriginalFilePath string       `json:"original_file_path"`
	RequestType      string       `json:"request_type"`
	Status           model.Status `json:"status"`
}

func (b *transcribeBody) toRequest() *model.Request {
	return &model.Request{
		ID:               b.ID,
		UserID:           b.UserID,
		Filename:         b.Filename,
		FileLastModified: b.FileLastModified,
		FilePath:         b.FilePath,
		Base64:           b.Base64,
		FileType:         b.FileType,
		FileSize:         b.FileSize,
		OriginalFilePath: b.OriginalFilePath,
		RequestType:      b.RequestType,
		Status:           b.Status,
	}
}

// requestRef identifies an existing request. Other fields of the record are ignored.
type requestRef struct {
	ID     string `json:"id" binding:"required"`
	UserID string `json:"user_id" binding:"required"`
}

// transcribe handles POST /request-transcribe/
func (h *Handlers) transcribe(c *gin.Context) {
	var body transcribeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.Error(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	log.Printf("[Transcribe] Request %s for user %s (%s, %d bytes)", body.ID, body.UserID, body.FileType, body.FileSize)
	res, err := h.manager.Transcribe(c.Request.Context(), body.toRequest())
	if err != nil {
		writeError(c, err)
		return
	}

	utils.Success(c, gin.H{
		"current_request_data": res.Request,
		"submit":               res.Submit,
	})
}

// resumeRequest handles POST /resume-request/
func (h *Handlers) resumeRequest(c *gin.Context) {
	var ref requestRef
	if err := c.ShouldBindJSON(&ref); err != nil {
		utils.Error(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	res, err := h.manager.Resume(c.Request.Context(), ref.UserID, ref.ID)
	if err != nil {
		writeError(c, err)
		return
	}

	utils.Success(c, gin.H{
		"message":              res.Message,
		"decision":             res.Decision,
		"current_request_data": res.Request,
		"submit":               res.Submit,
		"progress":             res.Progress,
	})
}

// checkStatus handles POST /check-status/
func (h *Handlers) checkStatus(c *gin.Context) {
	var ref requestRef
	if err := c.ShouldBindJSON(&ref); err != nil {
		utils.Error(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	res, err := h.manager.CheckStatus(c.Request.Context(), ref.UserID, ref.ID)
	if err != nil {
		writeError(c, err)
		return
	}

	utils.Success(c, gin.H{
		"message":              res.Message,
		"progress_percent":     res.Progress.ProgressPercent,
		"progress":             res.Progress,
		"current_request_data": res.Request,
	})
}

// uploadAudio handles POST /uploads/ for clients that upload through the server
func (h *Handlers) uploadAudio(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)

	userID := c.PostForm("user_id")
	if userID == "" {
		utils.Error(c, http.StatusBadRequest, "user_id is required")
		return
	}

	file, err := c.FormFile("audio_file")
	if err != nil {
		// Try alternative field names
		if file, err = c.FormFile("file"); err != nil {
			utils.Error(c, http.StatusBadRequest, "audio_file is required. Error: "+err.Error())
			return
		}
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(file.Filename)), ".")
	if !stt.SupportedExtension(ext) {
		utils.Error(c, http.StatusBadRequest, "unsupported audio format. Supported: "+stt.SupportedExtensionsSentence())
		return
	}

	upload, err := h.uploads.SaveUpload(c.Request.Context(), userID, file)
	if err != nil {
		log.Printf("[Upload] Error saving audio: %v", err)
		utils.Error(c, http.StatusInternalServerError, "failed to save audio file")
		return
	}

	log.Printf("[Upload] Saved %s (%d bytes) to %s", upload.Filename, upload.Size, upload.Path)
	utils.Success(c, gin.H{
		"file_path": upload.Path,
		"filename":  upload.Filename,
		"file_size": upload.Size,
		"file_type": "audio/" + ext,
	})
}

// writeError maps lifecycle errors onto HTTP responses. Unrecognized errors
// get a generic message, details stay in the log and on the record.
func writeError(c *gin.Context, err error) {
	var (
		validationErr *lifecycle.ValidationError
		quotaErr      *lifecycle.QuotaExceededError
		progressErr   *lifecycle.RemoteProgressError
	)

	switch {
	case errors.As(err, &validationErr):
		utils.Error(c, http.StatusBadRequest, validationErr.Reason)
	case errors.As(err, &quotaErr):
		utils.Error(c, http.StatusRequestEntityTooLarge, quotaErr.Error())
	case errors.Is(err, lifecycle.ErrNotWhitelisted):
		utils.Error(c, http.StatusForbidden, "user is not whitelisted")
	case errors.Is(err, repository.ErrNotFound):
		utils.Error(c, http.StatusNotFound, "transcribe request not found")
	case errors.Is(err, repository.ErrConflict),
		errors.Is(err, model.ErrInvalidTransition),
		errors.Is(err, lifecycle.ErrNoTransaction):
		utils.Error(c, http.StatusConflict, err.Error())
	case errors.As(err, &progressErr):
		utils.Error(c, http.StatusBadGateway, progressErr.Error())
	default:
		log.Printf("[API] %s %s failed: %v", c.Request.Method, c.FullPath(), err)
		utils.Error(c, http.StatusInternalServerError, genericErrorMessage)
	}
}
