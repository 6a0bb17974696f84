package server

import (
	"errors"
	"math"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/krau/konacaption/service"
)

const (
	codeValidation   = "FILE_VALIDATION_ERROR"
	codeInvalidImage = "INVALID_IMAGE"
	codeTooLarge     = "FILE_TOO_LARGE"
	codeModel        = "MODEL_ERROR"
	codeUnavailable  = "MODEL_UNAVAILABLE"
	codeTimeout      = "TIMEOUT"
	codeInternal     = "INTERNAL_ERROR"
	codeUnauthorized = "UNAUTHORIZED"
	codeInvalidHost  = "INVALID_HOST"
)

var errUnauthorized = errors.New("unauthorized")

type ErrorResponse struct {
	Error            string            `json:"error"`
	Detail           string            `json:"detail,omitempty"`
	ErrorCode        string            `json:"error_code"`
	Timestamp        time.Time         `json:"timestamp"`
	ValidationErrors []ValidationError `json:"validation_errors,omitempty"`
}

type ModelInfo struct {
	ModelName         string `json:"model_name"`
	Device            string `json:"device"`
	ProcessingBackend string `json:"processing_backend"`
}

type AnalyzeResponse struct {
	Filename       string        `json:"filename"`
	Tags           []service.Tag `json:"tags"`
	ProcessingTime float64       `json:"processing_time"`
	ImageSize      [2]int        `json:"image_size"`
	Timestamp      time.Time     `json:"timestamp"`
	ModelInfo      ModelInfo     `json:"model_info"`
}

type SystemInfo struct {
	MaxFileSizeMB       float64  `json:"max_file_size_mb"`
	AllowedFormats      []string `json:"allowed_formats"`
	MaxTags             int      `json:"max_tags"`
	MaxImageSize        [2]int   `json:"max_image_size"`
	ConfidenceThreshold float64  `json:"confidence_threshold"`
	Environment         string   `json:"environment"`
	QueuedJobs          int      `json:"queued_jobs"`
	Uptime              float64  `json:"uptime_seconds"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Version     string         `json:"version"`
	ModelStatus service.Health `json:"model_status"`
	SystemInfo  SystemInfo     `json:"system_info"`
}

func newAnalyzeResponse(filename string, res *service.AnalysisResult) AnalyzeResponse {
	return AnalyzeResponse{
		Filename:       filename,
		Tags:           res.Tags,
		ProcessingTime: math.Round(res.ProcessingTime.Seconds()*1000) / 1000,
		ImageSize:      [2]int{res.Dimensions.Width, res.Dimensions.Height},
		Timestamp:      time.Now().UTC(),
		ModelInfo: ModelInfo{
			ModelName:         res.ModelID,
			Device:            res.Device,
			ProcessingBackend: "onnxruntime",
		},
	}
}

func abortWithError(c *gin.Context, status int, code, msg, detail string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:     msg,
		Detail:    detail,
		ErrorCode: code,
		Timestamp: time.Now().UTC(),
	})
}

func abortWithValidation(c *gin.Context, status int, errs []ValidationError) {
	code := codeValidation
	if status == 413 {
		code = codeTooLarge
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:            "File validation failed",
		ErrorCode:        code,
		Timestamp:        time.Now().UTC(),
		ValidationErrors: errs,
	})
}
