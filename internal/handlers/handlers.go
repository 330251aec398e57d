package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/maskdetect/internal/usecase"
	"github.com/example/maskdetect/internal/vision"
)

// MaxUploadSize is the default cap on an uploaded image, in bytes.
const MaxUploadSize = 10 << 20

// Room for multipart boundaries and headers on top of the file itself.
const multipartOverhead = 64 << 10

// Detector is the pipeline the handlers expose.
type Detector interface {
	Detect(ctx context.Context, imageBytes []byte) (*usecase.Result, error)
	Stats() usecase.StatsSummary
}

// Options configures RegisterRoutes.
type Options struct {
	MaxUploadSize int64
	Logger        *zap.Logger
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, detector Detector, opts Options) {
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = MaxUploadSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	logger := opts.Logger.Named("http")

	router.Use(RequestLogger(logger), Recover(logger), CORS())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, detector.Stats())
	})

	// Every outcome is a 200: clients tell failures apart by the "error" key.
	router.POST("/detect", func(c *gin.Context) {
		data, err := readUpload(c, opts.MaxUploadSize)
		if err != nil {
			respondError(c, err)
			return
		}

		result, err := detector.Detect(c.Request.Context(), data)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})

	router.GET("/ws", streamHandler(detector, opts.MaxUploadSize, logger))
}

func readUpload(c *gin.Context, limit int64) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartOverhead)

	file, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return nil, vision.DecodeError(nil, "upload exceeds %d bytes", limit)
		case errors.Is(err, http.ErrMissingFile):
			return nil, vision.DecodeError(nil, `missing upload field "image"`)
		default:
			return nil, vision.DecodeError(err, "invalid multipart upload")
		}
	}
	if file.Size > limit {
		return nil, vision.DecodeError(nil, "upload exceeds %d bytes", limit)
	}

	src, err := file.Open()
	if err != nil {
		return nil, vision.DecodeError(err, "unable to open image")
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, vision.DecodeError(err, "failed to read image")
	}
	return data, nil
}

func respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusOK, gin.H{"error": vision.Message(err)})
}
