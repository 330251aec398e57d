package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/maskdetect/internal/events"
	"github.com/example/maskdetect/internal/logging"
	"github.com/example/maskdetect/internal/vision"
)

// Result is the outcome of a successful detection.
type Result struct {
	Faces      []vision.FaceBox `json:"faces"`
	MaskStatus vision.MaskLabel `json:"mask_status"`
}

// Options tunes a DetectionUseCase. Zero values pick the defaults.
type Options struct {
	MaxPixels int
	CacheTTL  time.Duration
	// CacheNamespace identifies the locator and model behind cached results,
	// so a shared Redis never serves results from a different backend.
	CacheNamespace string
}

// CacheNamespace derives a short stable namespace from backend identity
// parts such as locator name, file paths, sizes and modification times.
func CacheNamespace(parts ...string) string {
	h := sha1.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:12]
}

// DetectionUseCase runs decode, locate, crop, resize and classify over an
// uploaded image. It holds only read-only collaborators and is shared by all
// requests.
type DetectionUseCase struct {
	locator        vision.Locator
	classifier     vision.Classifier
	cache          Cache
	producer       events.Producer
	logger         *zap.Logger
	stats          *stats
	maxPixels      int
	cacheTTL       time.Duration
	cachePrefix    string
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewDetectionUseCase constructs a new use case instance.
func NewDetectionUseCase(locator vision.Locator, classifier vision.Classifier, cache Cache, producer events.Producer, logger *zap.Logger, opts Options) *DetectionUseCase {
	if cache == nil {
		cache = NoopCache{}
	}
	if producer == nil {
		producer = events.NoopProducer{}
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &DetectionUseCase{
		locator:        locator,
		classifier:     classifier,
		cache:          cache,
		producer:       producer,
		logger:         logger.Named("detection_usecase"),
		stats:          &stats{},
		maxPixels:      opts.MaxPixels,
		cacheTTL:       ttl,
		cachePrefix:    cachePrefix(opts.CacheNamespace),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// Detect runs the pipeline over imageBytes. Any error is a pipeline failure
// to be reported to the caller; cache and event failures are only logged.
func (uc *DetectionUseCase) Detect(ctx context.Context, imageBytes []byte) (*Result, error) {
	start := time.Now()
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.detect", requestID)

	sum := sha1.Sum(imageBytes)
	hash := hex.EncodeToString(sum[:])
	cacheKey := uc.cachePrefix + hash

	result, cached := uc.lookup(ctx, requestID, cacheKey)
	var err error
	if !cached {
		result, err = uc.run(ctx, requestID, imageBytes)
	}

	latency := time.Since(start)
	uc.stats.record(result, err, cached, latency)
	uc.publish(ctx, opLogger, requestID, hash, result, err, cached, latency)

	if err != nil {
		opLogger.Warn("detection failed", zap.Error(err), zap.Duration("latency", latency))
		return nil, err
	}

	opLogger.Info("detection complete",
		zap.Any("faces", result.Faces),
		zap.String("mask_status", string(result.MaskStatus)),
		zap.Bool("cached", cached),
		zap.Duration("latency", latency),
	)

	if !cached {
		uc.store(ctx, requestID, cacheKey, result)
	}
	return result, nil
}

func cachePrefix(namespace string) string {
	if namespace == "" {
		return "detection:"
	}
	return fmt.Sprintf("detection:%s:", namespace)
}

func (uc *DetectionUseCase) run(ctx context.Context, requestID string, imageBytes []byte) (*Result, error) {
	img, err := vision.Decode(imageBytes, uc.maxPixels)
	if err != nil {
		return nil, logging.NewOperationError("vision.decode", requestID, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, logging.NewOperationError("usecase.detect", requestID, err)
	}

	faces, err := uc.locator.Locate(ctx, img)
	if err != nil {
		if !errors.As(err, new(*vision.Error)) {
			err = vision.DetectionError(err, "face detection failed")
		}
		return nil, logging.NewOperationError("vision.locate", requestID, err)
	}
	if faces == nil {
		faces = []vision.FaceBox{}
	}

	// The first box in detector order drives classification; all are reported.
	target := img
	if len(faces) > 0 {
		target, err = vision.Crop(img, faces[0])
		if err != nil {
			return nil, logging.NewOperationError("vision.crop", requestID, err)
		}
	}

	score, err := uc.classifier.Score(ctx, vision.Resize(target))
	if err != nil {
		if !errors.As(err, new(*vision.Error)) {
			err = vision.InferenceError(err, "mask classification failed")
		}
		return nil, logging.NewOperationError("vision.classify", requestID, err)
	}

	return &Result{Faces: faces, MaskStatus: vision.LabelFromScore(score)}, nil
}

func (uc *DetectionUseCase) lookup(ctx context.Context, requestID, cacheKey string) (*Result, bool) {
	cached, err := uc.withRedisGet(ctx, requestID, "cache.get.result", cacheKey)
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logging.WithOperation(uc.logger, "usecase.lookup", requestID).Warn("failed to read cache", zap.Error(err))
		}
		return nil, false
	}

	var result Result
	if err := json.Unmarshal([]byte(cached), &result); err != nil {
		logging.WithOperation(uc.logger, "usecase.lookup", requestID).Warn("failed to decode cached result", zap.Error(err))
		return nil, false
	}
	if result.Faces == nil {
		result.Faces = []vision.FaceBox{}
	}
	return &result, true
}

func (uc *DetectionUseCase) store(ctx context.Context, requestID, cacheKey string, result *Result) {
	serialized, err := json.Marshal(result)
	if err != nil {
		logging.WithOperation(uc.logger, "usecase.store", requestID).Error("failed to serialize detection result", zap.Error(err))
		return
	}
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, cacheKey, string(serialized), uc.cacheTTL)
	}); err != nil {
		logging.WithOperation(uc.logger, "usecase.store", requestID).Warn("failed to cache detection result", zap.Error(err))
	}
}

func (uc *DetectionUseCase) publish(ctx context.Context, opLogger *zap.Logger, requestID, hash string, result *Result, err error, cached bool, latency time.Duration) {
	event := events.DetectionEvent{
		RequestID: requestID,
		SHA1:      hash,
		Cached:    cached,
		LatencyMs: float64(latency.Microseconds()) / 1000,
		CreatedAt: time.Now().UTC(),
	}
	if err != nil {
		event.Error = vision.Message(err)
	} else {
		event.Faces = result.Faces
		event.MaskStatus = result.MaskStatus
	}
	if err := uc.producer.Publish(context.WithoutCancel(ctx), event); err != nil {
		opLogger.Warn("failed to publish detection event", zap.Error(err))
	}
}

func (uc *DetectionUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		return logging.NewOperationError(operation, requestID, fn())
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if errors.Is(err, redis.Nil) {
			return err
		}

		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *DetectionUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
