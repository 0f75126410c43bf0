package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"

	"github.com/wearlab/tryon-server/internal/config"
	"github.com/wearlab/tryon-server/internal/kling"
	"github.com/wearlab/tryon-server/internal/models"
	"github.com/wearlab/tryon-server/internal/service"
)

const (
	testJWTSecret     = "jwt-secret"
	testWebhookSecret = "hook-secret"
)

type stubCredits struct{}

func (stubCredits) Reserve(context.Context, string, int) (bool, error) { return true, nil }
func (stubCredits) Credit(context.Context, string, int) error          { return nil }
func (stubCredits) Balance(context.Context, string) (int, error)       { return 0, nil }

type stubTasks struct {
	owners map[string]string
}

func (s stubTasks) Bind(context.Context, models.Task) error { return nil }
func (s stubTasks) Owner(_ context.Context, taskID string) (string, error) {
	return s.owners[taskID], nil
}
func (s stubTasks) Rebind(context.Context, string, string) error        { return nil }
func (s stubTasks) PruneUsage(context.Context, string, time.Time) error { return nil }

type stubAPI struct {
	result    *kling.TaskResult
	resultErr error
}

func (s stubAPI) CreateTask(context.Context, kling.TryOnRequest) (string, error) {
	return "task-new", nil
}
func (s stubAPI) ContinueTask(context.Context, string, string) (string, error) {
	return "task-next", nil
}
func (s stubAPI) TaskResult(context.Context, string) (*kling.TaskResult, error) {
	return s.result, s.resultErr
}

type stubImages struct{}

func (stubImages) Upload(context.Context, []byte, string) (string, error) {
	return "https://cdn.test/x", nil
}

type stubShares struct {
	link *models.ShareLink
}

func (s stubShares) GetByCode(_ context.Context, code string) (*models.ShareLink, error) {
	if s.link != nil && s.link.Code == code {
		copied := *s.link
		return &copied, nil
	}
	return nil, nil
}
func (s stubShares) GetByTask(context.Context, string) (*models.ShareLink, error) { return nil, nil }
func (s stubShares) Create(_ context.Context, link *models.ShareLink) (*models.ShareLink, error) {
	return link, nil
}
func (s stubShares) InsertClick(context.Context, int64, string) (bool, error) { return true, nil }
func (s stubShares) IncrementClicks(context.Context, int64) (int, error)      { return 1, nil }
func (s stubShares) MarkRewardGiven(context.Context, int64) (bool, error)     { return false, nil }

type stubPayments struct {
	applied int
}

func (s *stubPayments) ExistsOrder(context.Context, string) (bool, error) { return false, nil }
func (s *stubPayments) ApplyOrder(context.Context, *models.Payment) error {
	s.applied++
	return nil
}

type stubPacks struct{}

func (stubPacks) CreditsForVariant(context.Context, string) (int, bool, error) { return 8, true, nil }

type stubPromoMark struct{}

func (stubPromoMark) MarkUsed(context.Context, string, int64) error { return nil }

func newTestServer(t *testing.T, api stubAPI, owners map[string]string, payments *stubPayments) *Server {
	t.Helper()
	cfg := config.Config{
		JWTSecret:          testJWTSecret,
		LemonWebhookSecret: testWebhookSecret,
		StartTimeout:       time.Second,
		ResultTimeout:      time.Second,
		MaxUploadBytes:     1 << 20,
		UsageRetention:     time.Hour,
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	tasks := stubTasks{owners: owners}

	tryon := service.NewTryOnService(cfg, log, stubCredits{}, tasks, api, stubImages{})
	referrals := service.NewReferralService(log, stubShares{link: &models.ShareLink{ID: 1, Code: "abc123", UserID: "owner", RewardCredits: 1}}, tasks, stubCredits{}, 3, 1)
	webhooks := service.NewWebhookService(testWebhookSecret, log, payments, stubPacks{}, stubPromoMark{})

	return NewServer(cfg, log, tryon, nil, nil, referrals, webhooks)
}

func bearerToken(t *testing.T, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: subject})
	signed, err := token.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return "Bearer " + signed
}

func TestResultRequiresToken(t *testing.T) {
	srv := newTestServer(t, stubAPI{}, nil, &stubPayments{})

	req := httptest.NewRequest(http.MethodGet, "/api/tryon?action=result&taskId=task-1", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestResultStatusOnWire(t *testing.T) {
	cases := []struct {
		name       string
		result     *kling.TaskResult
		wantStatus int
		wantImage  bool
	}{
		{name: "pending", result: &kling.TaskResult{Status: models.StatusPending}, wantStatus: 1},
		{name: "success", result: &kling.TaskResult{Status: models.StatusSucceeded, ImageURL: "https://cdn.test/out.png"}, wantStatus: 2, wantImage: true},
		{name: "failed", result: &kling.TaskResult{Status: models.StatusFailed}, wantStatus: 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(t, stubAPI{result: tc.result}, map[string]string{"task-1": "owner"}, &stubPayments{})

			req := httptest.NewRequest(http.MethodGet, "/api/tryon?action=result&taskId=task-1", nil)
			req.Header.Set("Authorization", bearerToken(t, "owner"))
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)

			require.Equal(t, http.StatusOK, rec.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, float64(tc.wantStatus), body["status"])
			_, hasImage := body["imageUrl"]
			require.Equal(t, tc.wantImage, hasImage)
		})
	}
}

func TestResultOwnershipStatusCodes(t *testing.T) {
	srv := newTestServer(t, stubAPI{result: &kling.TaskResult{Status: models.StatusPending}}, map[string]string{"task-1": "owner"}, &stubPayments{})

	req := httptest.NewRequest(http.MethodGet, "/api/tryon?action=result&taskId=task-1", nil)
	req.Header.Set("Authorization", bearerToken(t, "intruder"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/tryon?action=result&taskId=ghost", nil)
	req.Header.Set("Authorization", bearerToken(t, "owner"))
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResultUpstreamStatusCodes(t *testing.T) {
	owners := map[string]string{"task-1": "owner"}

	srv := newTestServer(t, stubAPI{resultErr: kling.ErrTimeout}, owners, &stubPayments{})
	req := httptest.NewRequest(http.MethodGet, "/api/tryon?action=result&taskId=task-1", nil)
	req.Header.Set("Authorization", bearerToken(t, "owner"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusGatewayTimeout, rec.Code)

	srv = newTestServer(t, stubAPI{resultErr: kling.ErrUpstream}, owners, &stubPayments{})
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/tryon?action=result&taskId=task-1", nil)
	req.Header.Set("Authorization", bearerToken(t, "owner"))
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestUnknownActionRejected(t *testing.T) {
	srv := newTestServer(t, stubAPI{}, nil, &stubPayments{})

	req := httptest.NewRequest(http.MethodPost, "/api/tryon?action=teleport", nil)
	req.Header.Set("Authorization", bearerToken(t, "owner"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookEndpoint(t *testing.T) {
	payments := &stubPayments{}
	srv := newTestServer(t, stubAPI{}, nil, payments)

	body := []byte(`{"meta":{"event_name":"order_created","custom_data":{"user_id":"user-1"}},"data":{"id":"ord-1","attributes":{"first_order_item":{"variant_id":101}}}}`)

	req := httptest.NewRequest(http.MethodPost, "/lemon-webhook", bytes.NewReader(body))
	req.Header.Set("x-signature", "bogus")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, 0, payments.applied)

	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(body)
	req = httptest.NewRequest(http.MethodPost, "/lemon-webhook", bytes.NewReader(body))
	req.Header.Set("x-signature", hex.EncodeToString(mac.Sum(nil)))
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, payments.applied)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, float64(8), resp["credits_added"])
}

func TestShareClickEndpoint(t *testing.T) {
	srv := newTestServer(t, stubAPI{}, nil, &stubPayments{})

	body := bytes.NewBufferString(`{"share_code":"abc123","visitor_fingerprint":"fp-1"}`)
	req := httptest.NewRequest(http.MethodPost, "/share-click", body)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, float64(1), resp["click_count"])

	body = bytes.NewBufferString(`{"share_code":"missing","visitor_fingerprint":"fp-1"}`)
	req = httptest.NewRequest(http.MethodPost, "/share-click", body)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
