package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/woodmarket/orderflow/internal/domain"
	"github.com/woodmarket/orderflow/internal/repository"
	"github.com/woodmarket/orderflow/pkg/errors"
)

type memoryKeys struct {
	mu   sync.Mutex
	keys map[string]*domain.IdempotencyKey
}

func (m *memoryKeys) GetByKey(ctx context.Context, key string) (*domain.IdempotencyKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keys[key], nil
}

func (m *memoryKeys) Create(ctx context.Context, key *domain.IdempotencyKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key.Key]; ok {
		return &errors.ErrConflict{Message: "duplicate"}
	}
	m.keys[key.Key] = key
	return nil
}

func newTestEngine(status *int) (*gin.Engine, *memoryKeys, *int) {
	gin.SetMode(gin.TestMode)
	keys := &memoryKeys{keys: map[string]*domain.IdempotencyKey{}}
	repos := &repository.Repositories{IdempotencyKey: keys}
	calls := new(int)

	r := gin.New()
	r.Use(ActorMiddleware(zap.NewNop()))
	r.Use(IdempotencyMiddleware(repos, zap.NewNop()))
	r.POST("/pay", func(c *gin.Context) {
		*calls++
		actor, _ := GetActorFromContext(c)
		c.JSON(*status, gin.H{"call": *calls, "actor": actor.ID})
	})
	return r, keys, calls
}

func post(r *gin.Engine, key, body, actorID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/pay", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ActorRoleHeader, "customer")
	req.Header.Set(ActorIDHeader, actorID)
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestActorMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ActorMiddleware(zap.NewNop()))
	r.GET("/me", func(c *gin.Context) {
		actor, ok := GetActorFromContext(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"role": actor.Role, "id": actor.ID})
	})

	tests := []struct {
		name string
		role string
		id   string
		want int
	}{
		{"valid", "Woodworker", "w-1", http.StatusOK},
		{"missing role", "", "w-1", http.StatusUnauthorized},
		{"unknown role", "carpenter", "w-1", http.StatusUnauthorized},
		{"missing id", "staff", "  ", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.role != "" {
				req.Header.Set(ActorRoleHeader, tt.role)
			}
			req.Header.Set(ActorIDHeader, tt.id)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestIdempotency_ReplaysStoredResponse(t *testing.T) {
	status := http.StatusOK
	r, keys, calls := newTestEngine(&status)

	first := post(r, "k-1", `{"method":"wallet"}`, "c-1")
	require.Equal(t, http.StatusOK, first.Code)

	second := post(r, "k-1", `{"method":"wallet"}`, "c-1")
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get(IdempotencyReplayedHeader))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, *calls)
	assert.Equal(t, "c-1", keys.keys["k-1"].ActorID)
}

func TestIdempotency_DifferentPayloadConflicts(t *testing.T) {
	status := http.StatusOK
	r, _, calls := newTestEngine(&status)

	require.Equal(t, http.StatusOK, post(r, "k-1", `{"method":"wallet"}`, "c-1").Code)

	w := post(r, "k-1", `{"method":"gateway"}`, "c-1")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = post(r, "k-1", `{"method":"wallet"}`, "c-2")
	assert.Equal(t, http.StatusConflict, w.Code, "keys are bound to the actor that used them")
	assert.Equal(t, 1, *calls)
}

func TestIdempotency_FailuresAreNotStored(t *testing.T) {
	status := http.StatusBadGateway
	r, keys, calls := newTestEngine(&status)

	assert.Equal(t, http.StatusBadGateway, post(r, "k-1", `{}`, "c-1").Code)
	assert.Empty(t, keys.keys)

	status = http.StatusOK
	assert.Equal(t, http.StatusOK, post(r, "k-1", `{}`, "c-1").Code)
	assert.Equal(t, 2, *calls)
	assert.Len(t, keys.keys, 1)
}

func TestIdempotency_NoKeyPassesThrough(t *testing.T) {
	status := http.StatusOK
	r, keys, calls := newTestEngine(&status)

	post(r, "", `{}`, "c-1")
	post(r, "", `{}`, "c-1")

	assert.Equal(t, 2, *calls)
	assert.Empty(t, keys.keys)
}
