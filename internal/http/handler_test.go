package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkpoint-service/internal/config"
	"checkpoint-service/internal/feed"
	"checkpoint-service/internal/repository"
	"checkpoint-service/internal/service"
	"checkpoint-service/internal/testutil"
)

const testSecret = "test-secret"

type server struct {
	router *gin.Engine
	f      testutil.Fixture
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.NewDB(t)
	f := testutil.Seed(t, db)
	log := zerolog.Nop()

	cfg := &config.Config{
		Camera: config.CameraConfig{StationID: f.Station.ID, GateID: f.EntryGate.ID},
		Dedup:  config.DedupConfig{Tolerance: 2 * time.Second, ExternalIDWindow: 10 * time.Minute, MaxLateness: 10 * time.Minute},
	}

	tx := repository.NewTxManager(db)
	detections := repository.NewDetectionRepository(db)
	vehicles := repository.NewVehicleRepository(db)
	passages := repository.NewPassageRepository(db)
	refs := repository.NewReferenceRepository(db)

	ingestion := service.NewIngestionService(detections, tx, feed.NewClient(time.Second, log), cfg.Dedup, 24*time.Hour, log)
	pricing := service.NewPricingEngine(refs, log)
	lifecycle := service.NewPassageService(tx, vehicles, passages, refs, pricing, service.NewLogReceiptSink(log), config.PassageConfig{}, time.UTC, log)
	processor := service.NewProcessorService(tx, detections, vehicles, passages, refs, lifecycle, config.ProcessorConfig{BatchLimit: 50}, log)

	r := gin.New()
	NewHandler(ingestion, lifecycle, processor, cfg, log).Register(r, NewAuthMiddleware(testSecret, ""))
	return &server{router: r, f: f}
}

func token(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (s *server) do(t *testing.T, method, path, bearer string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var out map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w.Code, out
}

func TestPushDetectionAndList(t *testing.T) {
	s := newServer(t)
	ts := time.Now().UTC().Truncate(time.Second).Format(time.RFC3339)

	code, body := s.do(t, http.MethodPost, "/api/v1/detections", "", map[string]interface{}{
		"id": 41, "numberplate": "123abc02", "timestamp": ts, "direction": "entry",
	})
	require.Equal(t, http.StatusCreated, code, body)
	assert.Equal(t, true, body["stored"])

	code, body = s.do(t, http.MethodPost, "/api/v1/detections", "", map[string]interface{}{
		"id": 41, "numberplate": "123ABC02", "timestamp": ts,
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["stored"])

	code, _ = s.do(t, http.MethodPost, "/api/v1/detections", "", map[string]interface{}{"numberplate": ""})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = s.do(t, http.MethodGet, "/api/v1/detections?status=pending&plate=123abc02", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["data"], 1)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newServer(t)
	entry := map[string]interface{}{"plate": "123ABC02", "gate_id": s.f.EntryGate.ID}

	code, _ := s.do(t, http.MethodPost, "/api/v1/passages/entry", "", entry)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = s.do(t, http.MethodPost, "/api/v1/passages/entry", "not-a-jwt", entry)
	assert.Equal(t, http.StatusUnauthorized, code)

	wrongKey, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "1"}).SignedString([]byte("other"))
	require.NoError(t, err)
	code, _ = s.do(t, http.MethodPost, "/api/v1/passages/entry", wrongKey, entry)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = s.do(t, http.MethodPost, "/api/v1/passages/entry", token(t, jwt.MapClaims{"sub": "cashier"}), entry)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestPassageEndpoints(t *testing.T) {
	s := newServer(t)
	bearer := token(t, jwt.MapClaims{"operator_id": 12, "exp": time.Now().Add(time.Hour).Unix()})

	code, body := s.do(t, http.MethodPost, "/api/v1/pricing/quote", "", map[string]interface{}{
		"plate": "555AAA05", "gate_id": s.f.EntryGate.ID, "body_type_id": s.f.Car.ID,
	})
	require.Equal(t, http.StatusOK, code, body)
	assert.EqualValues(t, testutil.CarDailyRate, body["data"].(map[string]interface{})["total_amount"])

	entry := map[string]interface{}{
		"plate":   "555AAA05",
		"gate_id": s.f.EntryGate.ID,
		"extra":   map[string]interface{}{"body_type_id": s.f.Car.ID},
	}
	code, body = s.do(t, http.MethodPost, "/api/v1/passages/entry", bearer, entry)
	require.Equal(t, http.StatusCreated, code, body)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "require_payment", data["gate_action"])
	passage := data["passage"].(map[string]interface{})
	passageID := int64(passage["id"].(float64))
	assert.EqualValues(t, 12, passage["entry_operator_id"])

	code, body = s.do(t, http.MethodPost, "/api/v1/passages/entry", bearer, entry)
	require.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "active_passage", body["reason"])

	exit := map[string]interface{}{"plate": "555AAA05", "gate_id": s.f.ExitGate.ID}
	code, body = s.do(t, http.MethodPost, "/api/v1/passages/exit", bearer, exit)
	require.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "unpaid_entry", body["reason"])
	assert.Equal(t, "deny", body["gate_action"])

	code, body = s.do(t, http.MethodGet, "/api/v1/plates/555aaa05", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["data"].(map[string]interface{})["inside"])

	path := fmt.Sprintf("/api/v1/passages/%d/payment", passageID)
	code, body = s.do(t, http.MethodPost, path, bearer, map[string]interface{}{"method": "card"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, false, body["data"].(map[string]interface{})["already_paid"])

	code, body = s.do(t, http.MethodPost, path, bearer, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["data"].(map[string]interface{})["already_paid"])

	code, body = s.do(t, http.MethodPost, "/api/v1/passages/exit", bearer, exit)
	require.Equal(t, http.StatusOK, code, body)
	assert.NotNil(t, body["data"].(map[string]interface{})["receipt"])

	code, _ = s.do(t, http.MethodPost, "/api/v1/passages/999/payment", bearer, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestDetectionQueueEndpoints(t *testing.T) {
	s := newServer(t)
	bearer := token(t, jwt.MapClaims{"sub": "5"})

	code, body := s.do(t, http.MethodPost, "/api/v1/detections", "", map[string]interface{}{
		"numberplate": "NEW0001", "direction": "entry", "gate_id": s.f.EntryGate.ID,
	})
	require.Equal(t, http.StatusCreated, code, body)
	detectionID := int64(body["detection_id"].(float64))

	code, body = s.do(t, http.MethodPost, "/api/v1/detections/process", bearer, nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.EqualValues(t, 1, body["data"].(map[string]interface{})["pending_vehicle_type"])

	confirmPath := fmt.Sprintf("/api/v1/detections/%d/confirm", detectionID)
	code, body = s.do(t, http.MethodPost, confirmPath, bearer, nil)
	require.Equal(t, http.StatusConflict, code, body)
	assert.Equal(t, "no_pricing", body["reason"])

	code, body = s.do(t, http.MethodPost, confirmPath, bearer, map[string]interface{}{
		"extra": map[string]interface{}{"body_type_id": s.f.Car.ID},
	})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["success"])

	code, _ = s.do(t, http.MethodPost, confirmPath, bearer, nil)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = s.do(t, http.MethodPost, "/api/v1/detections/abc/confirm", bearer, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, http.MethodPost, "/api/v1/ingest/poll", bearer, nil)
	assert.Equal(t, http.StatusBadRequest, code, "no feed configured")
}
