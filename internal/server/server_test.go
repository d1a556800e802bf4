package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/agentmarket/internal/authorization"
	"github.com/smallbiznis/agentmarket/internal/config"
	"github.com/smallbiznis/agentmarket/internal/ledgererr"
	offeringdomain "github.com/smallbiznis/agentmarket/internal/offering/domain"
	"github.com/smallbiznis/agentmarket/internal/ratelimit"
	rentaldomain "github.com/smallbiznis/agentmarket/internal/rental/domain"
	rentalrepo "github.com/smallbiznis/agentmarket/internal/rental/repository"
	rentalservice "github.com/smallbiznis/agentmarket/internal/rental/service"
	"github.com/smallbiznis/agentmarket/internal/testkit"
	usagedomain "github.com/smallbiznis/agentmarket/internal/usage/domain"
	usagerepo "github.com/smallbiznis/agentmarket/internal/usage/repository"
	usageservice "github.com/smallbiznis/agentmarket/internal/usage/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	admin    = "0xadmin"
	owner    = "0xowner"
	renter   = "0xrenter"
	provider = "0xprovider"
)

type harness struct {
	*testkit.Stack
	engine *gin.Engine
}

func newHarness(t *testing.T, mutate func(*config.MarketPolicy)) harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	policy := config.DefaultMarketPolicy()
	policy.AdminAddresses = []string{admin}
	if mutate != nil {
		mutate(&policy)
	}
	stack := testkit.NewStack(t, policy)

	rentals := rentalservice.NewService(rentalservice.ServiceParam{
		Runner:     stack.Runner,
		Log:        stack.Log,
		Clock:      stack.Clock,
		Repo:       rentalrepo.Provide(),
		Offerings:  stack.Offerings,
		Counter:    stack.Offerings,
		Escrow:     stack.Escrow,
		Transferer: stack.Settlement,
		Audit:      stack.Audit,
	})
	enforcer, err := authorization.NewEnforcer(stack.DB)
	require.NoError(t, err)
	authz := authorization.NewService(authorization.Params{Log: stack.Log, Enforcer: enforcer, Policy: stack.Policy})
	usage := usageservice.NewService(usageservice.ServiceParam{
		Runner:  stack.Runner,
		Log:     stack.Log,
		Clock:   stack.Clock,
		Repo:    usagerepo.Provide(),
		Rentals: rentals,
		Admins:  authz,
		Audit:   stack.Audit,
	})
	limiter := ratelimit.NewUsageRecordLimiter(ratelimit.Params{
		Cfg:    config.Config{},
		Log:    stack.Log,
		Clock:  stack.Clock,
		Policy: stack.Policy,
	})

	engine := NewEngine(EngineParams{Cfg: config.Config{}})
	NewServer(ServerParams{
		Gin:          engine,
		OfferingSvc:  stack.Offerings,
		RentalSvc:    rentals,
		UsageSvc:     usage,
		AuditSvc:     stack.Audit,
		EscrowSvc:    stack.Escrow,
		Settlements:  stack.Settlement,
		Feed:         stack.Hub,
		UsageLimiter: limiter,
	})
	return harness{Stack: stack, engine: engine}
}

func (h harness) do(t *testing.T, method, path, caller string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		req.Header.Set(HeaderCaller, caller)
	}
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (h harness) registerOffering(t *testing.T, pricePerUse, subscriptionPrice int64) uint64 {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/api/v1/offerings", owner, offeringdomain.RegisterRequest{
		Name:              "Summarizer",
		Category:          "Text Tools",
		ContentHash:       "QmSummarizer",
		PricePerUse:       pricePerUse,
		SubscriptionPrice: subscriptionPrice,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[idResponse](t, rec).ID
}

func TestPayPerUseLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t, nil)
	offeringID := h.registerOffering(t, 100, 0)
	assert.Equal(t, uint64(1), offeringID)

	rec := h.do(t, http.MethodPost, "/api/v1/rentals/pay-per-use", renter, rentaldomain.RentPayPerUseRequest{
		OfferingID: offeringID,
		MaxUsage:   2,
		Payment:    200,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rentalID := decode[idResponse](t, rec).ID

	rec = h.do(t, http.MethodPost, fmt.Sprintf("/api/v1/rentals/%d/use", rentalID), renter, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rental := decode[rentaldomain.Rental](t, rec)
	assert.Equal(t, uint64(1), rental.UsageCount)
	assert.Equal(t, rentaldomain.StatusActive, rental.Status)

	rec = h.do(t, http.MethodPost, fmt.Sprintf("/api/v1/rentals/%d/cancel", rentalID), renter, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, rentaldomain.StatusCancelled, decode[rentaldomain.Rental](t, rec).Status)

	rec = h.do(t, http.MethodGet, fmt.Sprintf("/api/v1/rentals/%d/escrow", rentalID), "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	escrowView := decode[rentalEscrowResponse](t, rec)
	assert.Equal(t, int64(0), escrowView.Held)
	assert.Equal(t, int64(100), escrowView.Account.Refunded)

	rec = h.do(t, http.MethodGet, "/api/v1/accounts/0xOWNER/balance", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	balance := decode[map[string]any](t, rec)
	assert.Equal(t, float64(98), balance["balance"])

	rec = h.do(t, http.MethodGet, "/api/v1/offerings/1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint64(1), decode[offeringdomain.Offering](t, rec).TotalUsage)

	rec = h.do(t, http.MethodGet, "/api/v1/renters/0xrenter/rentals", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[listResponse[rentaldomain.Rental]](t, rec).Data, 1)
}

func TestSubscriptionUsesDurationSeconds(t *testing.T) {
	h := newHarness(t, nil)
	offeringID := h.registerOffering(t, 0, 1000)

	rec := h.do(t, http.MethodPost, "/api/v1/rentals/subscription", renter, rentSubscriptionRequest{
		OfferingID:      offeringID,
		DurationSeconds: 3600,
		Payment:         1000,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = h.do(t, http.MethodGet, "/api/v1/rentals/1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rental := decode[rentaldomain.Rental](t, rec)
	require.NotNil(t, rental.ExpiresAt)
	assert.True(t, rental.ExpiresAt.Equal(testkit.Epoch.Add(time.Hour)))

	rec = h.do(t, http.MethodPost, "/api/v1/rentals/1/complete", owner, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "subscription_not_expired", decode[errorResponse](t, rec).Error.Code)
}

func TestErrorResponses(t *testing.T) {
	h := newHarness(t, nil)
	offeringID := h.registerOffering(t, 100, 0)

	cases := []struct {
		name   string
		method string
		path   string
		caller string
		body   any
		status int
		kind   ledgererr.Kind
		code   string
	}{
		{"missing caller", http.MethodPost, "/api/v1/offerings", "", offeringdomain.RegisterRequest{Name: "x", ContentHash: "h", PricePerUse: 1}, http.StatusUnauthorized, ledgererr.Unauthorized, ""},
		{"unknown offering", http.MethodGet, "/api/v1/offerings/99", "", nil, http.StatusNotFound, ledgererr.NotFound, "offering_not_found"},
		{"bad id", http.MethodGet, "/api/v1/offerings/abc", "", nil, http.StatusBadRequest, ledgererr.InvalidInput, "invalid_id"},
		{"payment mismatch", http.MethodPost, "/api/v1/rentals/pay-per-use", renter, rentaldomain.RentPayPerUseRequest{OfferingID: offeringID, MaxUsage: 2, Payment: 199}, http.StatusPaymentRequired, ledgererr.PaymentMismatch, "payment_mismatch"},
		{"not owner", http.MethodPost, fmt.Sprintf("/api/v1/offerings/%d/deactivate", offeringID), renter, nil, http.StatusUnauthorized, ledgererr.Unauthorized, "not_offering_owner"},
		{"owner review", http.MethodPost, fmt.Sprintf("/api/v1/offerings/%d/reviews", offeringID), owner, offeringdomain.AddReviewRequest{Rating: 5}, http.StatusForbidden, ledgererr.Forbidden, "owner_cannot_review"},
		{"negative window", http.MethodGet, "/api/v1/offerings?offset=-1", "", nil, http.StatusBadRequest, ledgererr.InvalidInput, "invalid_window"},
		{"non admin", http.MethodPost, "/api/v1/compute-providers", renter, usagedomain.RegisterComputeProviderRequest{Address: provider}, http.StatusUnauthorized, ledgererr.Unauthorized, "admin_required"},
		{"bad page token", http.MethodGet, "/api/v1/events?page_token=@@@", "", nil, http.StatusBadRequest, ledgererr.InvalidInput, "invalid_page_token"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := h.do(t, tc.method, tc.path, tc.caller, tc.body)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			payload := decode[errorResponse](t, rec).Error
			assert.Equal(t, string(tc.kind), payload.Type)
			if tc.code != "" {
				assert.Equal(t, tc.code, payload.Code)
			}
		})
	}
}

func TestInactiveAndExpiredStatuses(t *testing.T) {
	h := newHarness(t, nil)
	offeringID := h.registerOffering(t, 100, 1000)

	rec := h.do(t, http.MethodPost, "/api/v1/rentals/subscription", renter, rentSubscriptionRequest{
		OfferingID: offeringID, DurationSeconds: 60, Payment: 1000,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	h.Clock.Advance(61 * time.Second)
	rec = h.do(t, http.MethodPost, "/api/v1/rentals/1/use", renter, nil)
	assert.Equal(t, http.StatusGone, rec.Code)

	rec = h.do(t, http.MethodPost, fmt.Sprintf("/api/v1/offerings/%d/deactivate", offeringID), owner, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/v1/rentals/pay-per-use", renter, rentaldomain.RentPayPerUseRequest{
		OfferingID: offeringID, MaxUsage: 1, Payment: 100,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(ledgererr.Inactive), decode[errorResponse](t, rec).Error.Type)
}

func TestUsageRecordingIsRateLimitedPerProvider(t *testing.T) {
	h := newHarness(t, func(p *config.MarketPolicy) {
		p.UsageRateLimit = config.RateLimit{Capacity: 1, RefillPerSec: 0.5}
	})
	offeringID := h.registerOffering(t, 100, 0)
	rec := h.do(t, http.MethodPost, "/api/v1/rentals/pay-per-use", renter, rentaldomain.RentPayPerUseRequest{
		OfferingID: offeringID, MaxUsage: 1, Payment: 100,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	for i := 0; i < 3; i++ {
		rec = h.do(t, http.MethodPost, "/api/v1/usage-records", provider, usagedomain.RecordUsageRequest{RentalID: 1})
		assert.Equal(t, http.StatusUnauthorized, rec.Code, rec.Body.String())
		assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
	}

	rec = h.do(t, http.MethodPost, "/api/v1/compute-providers", admin, usagedomain.RegisterComputeProviderRequest{
		Address:     provider,
		EndpointURL: "https://node.example/run",
	})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	report := usagedomain.RecordUsageRequest{RentalID: 1, JobID: "job-1", ComputeTimeMs: 1200, ResourcesUsed: 3}
	rec = h.do(t, http.MethodPost, "/api/v1/usage-records", provider, report)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	recordID := decode[idResponse](t, rec).ID

	rec = h.do(t, http.MethodPost, "/api/v1/usage-records", provider, report)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))

	h.Clock.Advance(2 * time.Second)
	rec = h.do(t, http.MethodPost, "/api/v1/usage-records", provider, report)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = h.do(t, http.MethodPost, fmt.Sprintf("/api/v1/usage-records/%d/verify", recordID), provider, usagedomain.VerifyUsageRequest{
		ProofHash: "0xproof",
		Verified:  true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[usagedomain.UsageRecord](t, rec).Verified)

	rec = h.do(t, http.MethodGet, fmt.Sprintf("/api/v1/offerings/%d/usage-stats", offeringID), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[usagedomain.AgentUsageStats](t, rec)
	assert.Equal(t, uint64(2), stats.TotalUsage)
	assert.Equal(t, uint64(1), stats.VerifiedUsage)
	assert.Equal(t, int64(2400), stats.TotalComputeTime)

	rec = h.do(t, http.MethodGet, "/api/v1/rentals/1/usage-records", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[listResponse[usagedomain.UsageRecord]](t, rec).Data, 2)
}

func TestListEventsFiltersByEntity(t *testing.T) {
	h := newHarness(t, nil)
	offeringID := h.registerOffering(t, 100, 0)
	rec := h.do(t, http.MethodPost, fmt.Sprintf("/api/v1/offerings/%d/deactivate", offeringID), owner, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(t, http.MethodGet, fmt.Sprintf("/api/v1/events?entity_type=offering&entity_id=%d", offeringID), "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var page struct {
		Events []struct {
			Action string `json:"action"`
		} `json:"events"`
		HasMore bool `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Events, 2)
	assert.Equal(t, "offering.registered", page.Events[0].Action)
	assert.Equal(t, "offering.deactivated", page.Events[1].Action)
	assert.False(t, page.HasMore)
}

func TestMapErrorFallsBackToInternal(t *testing.T) {
	status, payload := mapError(errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal_error", payload.Type)

	status, _ = mapError(fmt.Errorf("wrapped: %w", ErrRateLimited))
	assert.Equal(t, http.StatusTooManyRequests, status)

	status, payload = mapError(fmt.Errorf("use: %w", rentaldomain.ErrUsageExhausted))
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "usage_exhausted", payload.Code)
}

func TestUnknownRouteIsNotFound(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(t, http.MethodGet, "/api/v2/nothing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "not_found"))
}
