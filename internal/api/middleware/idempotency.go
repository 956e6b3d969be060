package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/woodmarket/orderflow/internal/domain"
	"github.com/woodmarket/orderflow/internal/repository"
	"github.com/woodmarket/orderflow/pkg/errors"
)

const IdempotencyKeyHeader = "Idempotency-Key"

// IdempotencyReplayedHeader is set on responses served from a stored idempotency record
const IdempotencyReplayedHeader = "Idempotency-Replayed"

const storeTimeout = 5 * time.Second

// responseRecorder keeps a copy of the response body for storing
type responseRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *responseRecorder) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *responseRecorder) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// IdempotencyMiddleware replays the stored response of a completed request that carries the
// same Idempotency-Key and payload. The same key with a different payload is a conflict.
// Only successful responses are stored, so a failed action can be retried under the same key.
// Must run after ActorMiddleware.
func IdempotencyMiddleware(repos *repository.Repositories, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Only apply to POST/PUT/PATCH requests
		if c.Request.Method != http.MethodPost && c.Request.Method != http.MethodPut && c.Request.Method != http.MethodPatch {
			c.Next()
			return
		}

		idempotencyKey := c.GetHeader(IdempotencyKeyHeader)
		if idempotencyKey == "" {
			c.Next()
			return
		}
		actor, _ := GetActorFromContext(c)

		// Read request body
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			logger.Error("Failed to read request body for idempotency", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process request"})
			c.Abort()
			return
		}

		// Restore body for handler
		c.Request.Body = io.NopCloser(bytes.NewBuffer(body))

		requestHash := hashRequest(c.Request.Method, c.Request.URL.Path, body)

		existing, err := repos.IdempotencyKey.GetByKey(c.Request.Context(), idempotencyKey)
		if err != nil {
			logger.Error("Failed to check idempotency key", zap.Error(err))
			c.Next()
			return
		}

		if existing != nil {
			if existing.RequestHash != requestHash || existing.ActorID != actor.ID {
				c.JSON(http.StatusConflict, gin.H{
					"error": "idempotency key conflict: same key used with different payload",
				})
				c.Abort()
				return
			}
			c.Header(IdempotencyReplayedHeader, "true")
			c.Data(existing.StatusCode, "application/json; charset=utf-8", existing.ResponseBody)
			c.Abort()
			return
		}

		recorder := &responseRecorder{ResponseWriter: c.Writer}
		c.Writer = recorder

		c.Next()

		status := recorder.Status()
		if status < 200 || status >= 300 {
			return
		}

		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), storeTimeout)
		defer cancel()
		record := &domain.IdempotencyKey{
			Key:          idempotencyKey,
			ActorID:      actor.ID,
			RequestHash:  requestHash,
			StatusCode:   status,
			ResponseBody: recorder.body.Bytes(),
		}
		if err := repos.IdempotencyKey.Create(ctx, record); err != nil {
			var conflict *errors.ErrConflict
			if stderrors.As(err, &conflict) {
				logger.Debug("Idempotency key stored concurrently", zap.String("key", idempotencyKey))
				return
			}
			logger.Error("Failed to store idempotency key", zap.String("key", idempotencyKey), zap.Error(err))
		}
	}
}

func hashRequest(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{' '})
	h.Write([]byte(path))
	h.Write([]byte{'\n'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
