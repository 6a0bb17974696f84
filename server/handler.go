package server

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/krau/konacaption/config"
	"github.com/krau/konacaption/service"
	"go.uber.org/zap"
	"lukechampine.com/blake3"
)

// multipart framing allowance on top of the file size limit
const formOverhead = 1 << 20

func (s *Server) RootHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "KonaCaption image analysis service",
		"version": Version,
		"health":  "/health",
		"analyze": "/analyze",
	})
}

func (s *Server) HealthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	model := s.manager.HealthCheck(ctx)
	status := "healthy"
	if model.Status != service.StatusHealthy {
		status = "degraded"
	}
	c.JSON(http.StatusOK, HealthResponse{
		Status:      status,
		Timestamp:   time.Now().UTC(),
		Version:     Version,
		ModelStatus: model,
		SystemInfo: SystemInfo{
			MaxFileSizeMB:       float64(s.cfg.MaxFileSize) / (1024 * 1024),
			AllowedFormats:      s.cfg.AllowedTypes,
			MaxTags:             s.cfg.MaxTags,
			MaxImageSize:        [2]int{s.cfg.MaxImageWidth, s.cfg.MaxImageHeight},
			ConfidenceThreshold: s.cfg.ConfidenceThreshold,
			Environment:         s.cfg.Environment,
			QueuedJobs:          s.analyzer.QueuedJobs(),
			Uptime:              time.Since(s.startedAt).Seconds(),
		},
	})
}

func (s *Server) AnalyzeHandler(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxFileSize+formOverhead)

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			abortWithValidation(c, http.StatusRequestEntityTooLarge, []ValidationError{{
				Field:   "file_size",
				Message: "File exceeds maximum allowed size of " + formatFileSize(s.cfg.MaxFileSize),
			}})
			return
		}
		abortWithValidation(c, http.StatusBadRequest, []ValidationError{{Field: "file", Message: "No file uploaded"}})
		return
	}

	data, err := s.upload.read(fh)
	if err != nil {
		var ue *uploadError
		if errors.As(err, &ue) {
			status := http.StatusBadRequest
			if ue.tooLarge {
				status = http.StatusRequestEntityTooLarge
			}
			abortWithValidation(c, status, ue.errs)
			return
		}
		s.logger.Error("Failed to read upload", zap.Error(err))
		abortWithError(c, http.StatusBadRequest, codeValidation, "Could not read uploaded file", "")
		return
	}

	filename := safeFilename(fh.Filename)
	digest := blake3.Sum256(data)
	s.logger.Info("Analyzing image",
		zap.String("filename", filename),
		zap.Int("bytes", len(data)),
		zap.String("blake3", hex.EncodeToString(digest[:])),
		zap.String("request_id", c.GetString(ctxRequestID)))

	res, err := s.analyzer.Analyze(c.Request.Context(), data, filename)
	if err != nil {
		s.writeInferenceError(c, err)
		return
	}
	c.JSON(http.StatusOK, newAnalyzeResponse(filename, res))
}

func (s *Server) writeInferenceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		abortWithError(c, http.StatusGatewayTimeout, codeTimeout, "Image analysis timed out", "")
		return
	case errors.Is(err, context.Canceled):
		abortWithError(c, 499, codeInternal, "Request canceled", "")
		return
	}

	detail := ""
	if s.cfg.Debug {
		detail = err.Error()
	}
	switch service.KindOf(err) {
	case service.KindPreprocess:
		var pe *service.PreprocessError
		if errors.As(err, &pe) {
			detail = pe.Reason
		}
		abortWithError(c, http.StatusBadRequest, codeInvalidImage, "Invalid image file", detail)
	case service.KindModelLoad:
		abortWithError(c, http.StatusServiceUnavailable, codeUnavailable, "Model is not available", detail)
	default:
		s.logger.Error("Caption generation failed", zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, codeModel, "Model processing failed", detail)
	}
}

func (s *Server) DebugConfigHandler(c *gin.Context) {
	c.Header("Content-Type", "application/toml; charset=utf-8")
	c.Status(http.StatusOK)
	if err := config.Dump(c.Writer, s.cfg); err != nil {
		s.logger.Error("Failed to render config", zap.Error(err))
	}
}
