package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/smallbiznis/agentmarket/internal/audit/domain"
	auditrepo "github.com/smallbiznis/agentmarket/internal/audit/repository"
	auditservice "github.com/smallbiznis/agentmarket/internal/audit/service"
	"github.com/smallbiznis/agentmarket/internal/callerctx"
	"github.com/smallbiznis/agentmarket/internal/clock"
	"github.com/smallbiznis/agentmarket/internal/ledgererr"
	"github.com/smallbiznis/agentmarket/internal/ledgertx"
	offeringdomain "github.com/smallbiznis/agentmarket/internal/offering/domain"
	"github.com/smallbiznis/agentmarket/internal/offering/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	owner    = "0xowner"
	reviewer = "0xreviewer"
)

type fixture struct {
	svc    offeringdomain.Service
	audit  auditdomain.Service
	runner *ledgertx.Runner
}

func setup(t *testing.T) fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&ledgertx.Sequence{},
		&offeringdomain.Offering{},
		&offeringdomain.Review{},
		&auditdomain.Event{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	runner := ledgertx.NewRunner(ledgertx.RunnerParam{DB: db, Log: zap.NewNop()})
	audit := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  auditrepo.Provide(),
	})

	return fixture{
		svc: NewService(ServiceParam{
			Runner: runner,
			Log:    zap.NewNop(),
			Clock:  clk,
			Repo:   repository.Provide(),
			Audit:  audit,
		}),
		audit:  audit,
		runner: runner,
	}
}

func as(address string) context.Context {
	return callerctx.WithCaller(context.Background(), address)
}

func (f fixture) register(t *testing.T, req offeringdomain.RegisterRequest) uint64 {
	t.Helper()
	id, err := f.svc.Register(as(owner), req)
	require.NoError(t, err)
	return id
}

func validRequest() offeringdomain.RegisterRequest {
	return offeringdomain.RegisterRequest{
		Name:              "Summarizer",
		Description:       "Condenses long documents",
		Category:          "Text Tools",
		ContentHash:       "QmHash",
		PricePerUse:       100,
		SubscriptionPrice: 1000,
	}
}

func TestRegisterAssignsSequentialIDsAndDefaults(t *testing.T) {
	f := setup(t)

	first := f.register(t, validRequest())
	second := f.register(t, validRequest())
	assert.Equal(t, uint64(1), first)
	assert.Equal(t, uint64(2), second)

	offering, err := f.svc.Get(context.Background(), first)
	require.NoError(t, err)
	assert.Equal(t, owner, offering.Owner)
	assert.True(t, offering.Active)
	assert.Zero(t, offering.TotalUsage)
	assert.Zero(t, offering.Rating)
	assert.Zero(t, offering.ReviewCount)
	assert.Equal(t, "text-tools", offering.CategorySlug)

	total, err := f.svc.CountTotal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	resp, err := f.audit.List(context.Background(), auditdomain.ListEventRequest{EntityType: auditdomain.EntityOffering, EntityID: "1"})
	require.NoError(t, err)
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "offering.registered", resp.Events[0].Action)
	assert.Equal(t, owner, resp.Events[0].Actor)
}

func TestRegisterValidation(t *testing.T) {
	f := setup(t)

	cases := map[string]func(r *offeringdomain.RegisterRequest){
		"empty name":        func(r *offeringdomain.RegisterRequest) { r.Name = "  " },
		"empty hash":        func(r *offeringdomain.RegisterRequest) { r.ContentHash = "" },
		"no price":          func(r *offeringdomain.RegisterRequest) { r.PricePerUse, r.SubscriptionPrice = 0, 0 },
		"negative price":    func(r *offeringdomain.RegisterRequest) { r.PricePerUse = -1 },
		"negative sub only": func(r *offeringdomain.RegisterRequest) { r.SubscriptionPrice = -5 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := validRequest()
			mutate(&req)
			_, err := f.svc.Register(as(owner), req)
			assert.Equal(t, ledgererr.InvalidInput, ledgererr.KindOf(err))
		})
	}

	_, err := f.svc.Register(context.Background(), validRequest())
	assert.ErrorIs(t, err, callerctx.ErrMissingCaller)

	total, err := f.svc.CountTotal(context.Background())
	require.NoError(t, err)
	assert.Zero(t, total)

	// a rejected registration must not consume an id
	assert.Equal(t, uint64(1), f.register(t, validRequest()))
}

func TestUpdateRequiresOwner(t *testing.T) {
	f := setup(t)
	id := f.register(t, validRequest())

	err := f.svc.Update(as(reviewer), offeringdomain.UpdateRequest{ID: id, Name: "x", PricePerUse: 1})
	assert.ErrorIs(t, err, offeringdomain.ErrNotOwner)
	assert.Equal(t, ledgererr.Unauthorized, ledgererr.KindOf(err))

	err = f.svc.Update(as(owner), offeringdomain.UpdateRequest{ID: 99, Name: "x", PricePerUse: 1})
	assert.ErrorIs(t, err, offeringdomain.ErrNotFound)

	require.NoError(t, f.svc.Update(as(owner), offeringdomain.UpdateRequest{
		ID:                id,
		Name:              "Summarizer v2",
		Description:       "Faster",
		PricePerUse:       150,
		SubscriptionPrice: 0,
	}))
	offering, err := f.svc.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Summarizer v2", offering.Name)
	assert.Equal(t, int64(150), offering.PricePerUse)
	assert.Zero(t, offering.SubscriptionPrice)
}

func TestDeactivateIsIdempotent(t *testing.T) {
	f := setup(t)
	id := f.register(t, validRequest())

	require.NoError(t, f.svc.Deactivate(as(owner), id))
	require.NoError(t, f.svc.Deactivate(as(owner), id))

	offering, err := f.svc.Get(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, offering.Active)

	resp, err := f.audit.List(context.Background(), auditdomain.ListEventRequest{EntityType: auditdomain.EntityOffering, EntityID: "1"})
	require.NoError(t, err)
	require.Len(t, resp.Events, 2)
	assert.Equal(t, "offering.deactivated", resp.Events[1].Action)

	assert.ErrorIs(t, f.svc.Activate(as(reviewer), id), offeringdomain.ErrNotOwner)
	require.NoError(t, f.svc.Activate(as(owner), id))
	offering, err = f.svc.Get(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, offering.Active)
}

func TestAddReviewRecomputesRating(t *testing.T) {
	f := setup(t)
	id := f.register(t, validRequest())

	require.NoError(t, f.svc.AddReview(as(reviewer), offeringdomain.AddReviewRequest{OfferingID: id, Rating: 5}))
	require.NoError(t, f.svc.AddReview(as("0xsecond"), offeringdomain.AddReviewRequest{OfferingID: id, Rating: 3, Comment: "ok"}))

	offering, err := f.svc.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, uint64(400), offering.Rating)
	assert.Equal(t, uint64(2), offering.ReviewCount)

	require.NoError(t, f.svc.AddReview(as("0xthird"), offeringdomain.AddReviewRequest{OfferingID: id, Rating: 4}))
	offering, err = f.svc.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, uint64(400), offering.Rating)
	assert.Equal(t, uint64(3), offering.ReviewCount)

	reviews, err := f.svc.ListReviews(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, reviews, 3)
	assert.Equal(t, uint64(1), reviews[0].ID)
	assert.Equal(t, "ok", reviews[1].Comment)
}

func TestAddReviewRejections(t *testing.T) {
	f := setup(t)
	id := f.register(t, validRequest())

	err := f.svc.AddReview(as(owner), offeringdomain.AddReviewRequest{OfferingID: id, Rating: 5})
	assert.Equal(t, ledgererr.Forbidden, ledgererr.KindOf(err))

	for _, rating := range []int{0, 6, -1} {
		err = f.svc.AddReview(as(reviewer), offeringdomain.AddReviewRequest{OfferingID: id, Rating: rating})
		assert.Equal(t, ledgererr.InvalidInput, ledgererr.KindOf(err))
	}

	err = f.svc.AddReview(as(reviewer), offeringdomain.AddReviewRequest{OfferingID: 42, Rating: 5})
	assert.Equal(t, ledgererr.NotFound, ledgererr.KindOf(err))

	require.NoError(t, f.svc.AddReview(as(reviewer), offeringdomain.AddReviewRequest{OfferingID: id, Rating: 2}))
	err = f.svc.AddReview(as(reviewer), offeringdomain.AddReviewRequest{OfferingID: id, Rating: 5})
	assert.Equal(t, ledgererr.Conflict, ledgererr.KindOf(err))

	offering, err := f.svc.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), offering.Rating)
	assert.Equal(t, uint64(1), offering.ReviewCount)
}

func TestListActiveWindows(t *testing.T) {
	f := setup(t)
	for i := 0; i < 4; i++ {
		f.register(t, validRequest())
	}
	require.NoError(t, f.svc.Deactivate(as(owner), 2))

	page, err := f.svc.ListActive(context.Background(), 0, 10)
	require.NoError(t, err)
	ids := make([]uint64, 0, len(page))
	for _, o := range page {
		ids = append(ids, o.ID)
	}
	assert.Equal(t, []uint64{1, 3, 4}, ids)

	page, err = f.svc.ListActive(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, uint64(3), page[0].ID)

	page, err = f.svc.ListActive(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Empty(t, page)

	page, err = f.svc.ListActive(context.Background(), 10, 5)
	require.NoError(t, err)
	assert.Empty(t, page)

	_, err = f.svc.ListActive(context.Background(), -1, 5)
	assert.ErrorIs(t, err, offeringdomain.ErrInvalidWindow)

	total, err := f.svc.CountTotal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
}

func TestListByOwnerAndCategory(t *testing.T) {
	f := setup(t)
	f.register(t, validRequest())
	other := validRequest()
	other.Category = "Image"
	id, err := f.svc.Register(as("0xOTHER"), other)
	require.NoError(t, err)

	mine, err := f.svc.ListByOwner(context.Background(), "0xOwner")
	require.NoError(t, err)
	require.Len(t, mine, 1)

	images, err := f.svc.ListByCategory(context.Background(), " Image ")
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, id, images[0].ID)
	assert.Equal(t, "0xother", images[0].Owner)
}

func TestListByCategoryMatchesExactCategory(t *testing.T) {
	f := setup(t)
	ids := map[string]uint64{}
	for _, category := range []string{"C++", "C#", "C", "AI Tools", "ai-tools", "", "!!!"} {
		req := validRequest()
		req.Category = category
		ids[category] = f.register(t, req)
	}

	for category, id := range ids {
		found, err := f.svc.ListByCategory(context.Background(), category)
		require.NoError(t, err)
		require.Len(t, found, 1, "category %q", category)
		assert.Equal(t, id, found[0].ID)
		assert.Equal(t, category, found[0].Category)
	}
}

func TestIncrementUsageInsideTransaction(t *testing.T) {
	f := setup(t)
	id := f.register(t, validRequest())

	require.NoError(t, f.runner.Run(context.Background(), "test", func(tx *ledgertx.Tx) error {
		return f.svc.IncrementUsage(context.Background(), tx, id)
	}))
	err := f.runner.Run(context.Background(), "test", func(tx *ledgertx.Tx) error {
		return f.svc.IncrementUsage(context.Background(), tx, 77)
	})
	assert.ErrorIs(t, err, offeringdomain.ErrNotFound)

	offering, err := f.svc.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), offering.TotalUsage)
}
