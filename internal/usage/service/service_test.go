package service

import (
	"context"
	"testing"
	"time"

	auditdomain "github.com/smallbiznis/agentmarket/internal/audit/domain"
	"github.com/smallbiznis/agentmarket/internal/config"
	"github.com/smallbiznis/agentmarket/internal/ledgererr"
	offeringdomain "github.com/smallbiznis/agentmarket/internal/offering/domain"
	rentaldomain "github.com/smallbiznis/agentmarket/internal/rental/domain"
	rentalrepo "github.com/smallbiznis/agentmarket/internal/rental/repository"
	rentalservice "github.com/smallbiznis/agentmarket/internal/rental/service"
	"github.com/smallbiznis/agentmarket/internal/testkit"
	usagedomain "github.com/smallbiznis/agentmarket/internal/usage/domain"
	"github.com/smallbiznis/agentmarket/internal/usage/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	admin    = "0xadmin"
	owner    = "0xowner"
	renter   = "0xrenter"
	provider = "0xprovider"
)

type staticAdmins map[string]bool

func (a staticAdmins) IsAdmin(_ context.Context, address string) (bool, error) {
	return a[address], nil
}

type fixture struct {
	*testkit.Stack
	rentals rentaldomain.Service
	svc     usagedomain.Service
}

func setup(t *testing.T) fixture {
	t.Helper()
	stack := testkit.NewStack(t, config.DefaultMarketPolicy())
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
	svc := NewService(ServiceParam{
		Runner:  stack.Runner,
		Log:     stack.Log,
		Clock:   stack.Clock,
		Repo:    repository.Provide(),
		Rentals: rentals,
		Admins:  staticAdmins{admin: true},
		Audit:   stack.Audit,
	})
	return fixture{Stack: stack, rentals: rentals, svc: svc}
}

func (f fixture) rental(t *testing.T) (offeringID, rentalID uint64) {
	t.Helper()
	offeringID = f.RegisterOffering(t, owner, 100, 0)
	rentalID, err := f.rentals.RentPayPerUse(testkit.As(renter), rentaldomain.RentPayPerUseRequest{
		OfferingID: offeringID,
		MaxUsage:   3,
		Payment:    300,
	})
	require.NoError(t, err)
	return offeringID, rentalID
}

func (f fixture) registerProvider(t *testing.T) {
	t.Helper()
	require.NoError(t, f.svc.RegisterComputeProvider(testkit.As(admin), usagedomain.RegisterComputeProviderRequest{
		Address:     provider,
		EndpointURL: "https://compute.example.com/v1?token=secret-token",
	}))
}

func TestRegisterComputeProviderRequiresAdmin(t *testing.T) {
	f := setup(t)

	err := f.svc.RegisterComputeProvider(testkit.As(renter), usagedomain.RegisterComputeProviderRequest{Address: provider})
	assert.Equal(t, ledgererr.Unauthorized, ledgererr.KindOf(err))

	err = f.svc.RegisterComputeProvider(testkit.As(admin), usagedomain.RegisterComputeProviderRequest{Address: "  "})
	assert.ErrorIs(t, err, usagedomain.ErrInvalidAddress)

	err = f.svc.RegisterComputeProvider(testkit.As(admin), usagedomain.RegisterComputeProviderRequest{Address: provider, EndpointURL: "not a url"})
	assert.ErrorIs(t, err, usagedomain.ErrInvalidEndpoint)

	f.registerProvider(t)
	require.NoError(t, f.svc.RegisterComputeProvider(testkit.As(admin), usagedomain.RegisterComputeProviderRequest{
		Address:     "0xPROVIDER",
		EndpointURL: "https://other.example.com",
	}))

	got, err := f.svc.GetComputeProvider(context.Background(), provider)
	require.NoError(t, err)
	assert.True(t, got.Registered)
	assert.Equal(t, "https://other.example.com", got.EndpointURL)

	resp, err := f.Audit.List(context.Background(), auditdomain.ListEventRequest{
		EntityType: auditdomain.EntityComputeProvider,
		EntityID:   provider,
	})
	require.NoError(t, err)
	require.Len(t, resp.Events, 2)
	assert.Equal(t, "compute_provider.registered", resp.Events[0].Action)
	assert.NotContains(t, resp.Events[0].Payload["endpoint_url"], "secret-token")
	assert.Equal(t, "compute_provider.updated", resp.Events[1].Action)

	_, err = f.svc.GetComputeProvider(context.Background(), "0xnobody")
	assert.ErrorIs(t, err, usagedomain.ErrProviderNotFound)
}

func TestRecordUsageRequiresRegisteredProvider(t *testing.T) {
	f := setup(t)
	offeringID, rentalID := f.rental(t)
	req := usagedomain.RecordUsageRequest{RentalID: rentalID, JobID: "job-1", ComputeTimeMs: 1000, ResourcesUsed: 50}

	_, err := f.svc.RecordUsage(testkit.As(provider), req)
	assert.Equal(t, ledgererr.Unauthorized, ledgererr.KindOf(err))

	_, err = f.svc.RecordUsage(testkit.As(provider), usagedomain.RecordUsageRequest{RentalID: rentalID})
	assert.Equal(t, ledgererr.Unauthorized, ledgererr.KindOf(err))

	f.registerProvider(t)
	id, err := f.svc.RecordUsage(testkit.As(provider), req)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	record, err := f.svc.GetUsageRecord(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, record.Verified)
	assert.Equal(t, offeringID, record.OfferingID)
	assert.Equal(t, renter, record.Renter)
	assert.Equal(t, provider, record.ComputeProvider)
	assert.Equal(t, Digest(record), record.Digest)
	assert.Len(t, record.Digest, 66)

	_, err = f.svc.RecordUsage(testkit.As(provider), usagedomain.RecordUsageRequest{RentalID: 42, JobID: "job-2"})
	assert.Equal(t, ledgererr.NotFound, ledgererr.KindOf(err))

	_, err = f.svc.RecordUsage(testkit.As(provider), usagedomain.RecordUsageRequest{RentalID: rentalID, JobID: " "})
	assert.ErrorIs(t, err, usagedomain.ErrInvalidJobID)

	_, err = f.svc.RecordUsage(testkit.As(provider), usagedomain.RecordUsageRequest{RentalID: rentalID, JobID: "job-3", ComputeTimeMs: -1})
	assert.ErrorIs(t, err, usagedomain.ErrInvalidMeasurement)

	_, err = f.svc.GetUsageRecord(context.Background(), 2)
	assert.ErrorIs(t, err, usagedomain.ErrRecordNotFound)
}

func TestVerifyUsageLatestVerdictWins(t *testing.T) {
	f := setup(t)
	_, rentalID := f.rental(t)
	f.registerProvider(t)
	id, err := f.svc.RecordUsage(testkit.As(provider), usagedomain.RecordUsageRequest{RentalID: rentalID, JobID: "job-1"})
	require.NoError(t, err)

	err = f.svc.VerifyUsage(testkit.As(renter), usagedomain.VerifyUsageRequest{RecordID: id, ProofHash: "0xproof", Verified: true})
	assert.Equal(t, ledgererr.Unauthorized, ledgererr.KindOf(err))

	err = f.svc.VerifyUsage(testkit.As(provider), usagedomain.VerifyUsageRequest{RecordID: 9, ProofHash: "0xproof", Verified: true})
	assert.Equal(t, ledgererr.NotFound, ledgererr.KindOf(err))

	require.NoError(t, f.svc.VerifyUsage(testkit.As(provider), usagedomain.VerifyUsageRequest{RecordID: id, ProofHash: "0xproof", Verified: true}))
	record, err := f.svc.GetUsageRecord(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, record.Verified)
	assert.Equal(t, "0xproof", record.ProofHash)
	require.NotNil(t, record.VerifiedAt)

	f.Clock.Advance(time.Minute)
	require.NoError(t, f.svc.VerifyUsage(testkit.As(provider), usagedomain.VerifyUsageRequest{RecordID: id, ProofHash: "0xrecheck", Verified: false}))
	record, err = f.svc.GetUsageRecord(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, record.Verified)
	assert.Equal(t, "0xrecheck", record.ProofHash)
	assert.True(t, record.VerifiedAt.Equal(testkit.Epoch.Add(time.Minute)))

	assert.Equal(t,
		[]string{"usage.recorded", "usage.verified", "usage.verified"},
		f.Actions(t, auditdomain.EntityUsageRecord, "1"),
	)
}

func TestAgentUsageStats(t *testing.T) {
	f := setup(t)
	offeringID, rentalID := f.rental(t)
	f.registerProvider(t)

	first, err := f.svc.RecordUsage(testkit.As(provider), usagedomain.RecordUsageRequest{RentalID: rentalID, JobID: "a", ComputeTimeMs: 1000, ResourcesUsed: 50})
	require.NoError(t, err)
	_, err = f.svc.RecordUsage(testkit.As(provider), usagedomain.RecordUsageRequest{RentalID: rentalID, JobID: "b", ComputeTimeMs: 2000, ResourcesUsed: 75})
	require.NoError(t, err)
	require.NoError(t, f.svc.VerifyUsage(testkit.As(provider), usagedomain.VerifyUsageRequest{RecordID: first, ProofHash: "0xp", Verified: true}))

	stats, err := f.svc.GetAgentUsageStats(context.Background(), offeringID)
	require.NoError(t, err)
	assert.Equal(t, usagedomain.AgentUsageStats{
		TotalUsage:         2,
		VerifiedUsage:      1,
		TotalComputeTime:   3000,
		TotalResourcesUsed: 125,
	}, stats)

	empty, err := f.svc.GetAgentUsageStats(context.Background(), 77)
	require.NoError(t, err)
	assert.Zero(t, empty)

	records, err := f.svc.ListUsageByRental(context.Background(), rentalID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].JobID)
}

func TestFullLifecycle(t *testing.T) {
	f := setup(t)
	offeringID, rentalID := f.rental(t)
	f.registerProvider(t)

	recordID, err := f.svc.RecordUsage(testkit.As(provider), usagedomain.RecordUsageRequest{RentalID: rentalID, JobID: "job-1", ComputeTimeMs: 10, ResourcesUsed: 1})
	require.NoError(t, err)
	require.NoError(t, f.rentals.UseAgent(testkit.As(renter), rentalID))
	require.NoError(t, f.svc.VerifyUsage(testkit.As(provider), usagedomain.VerifyUsageRequest{RecordID: recordID, ProofHash: "0xproof", Verified: true}))
	require.NoError(t, f.Offerings.AddReview(testkit.As(renter), offeringdomain.AddReviewRequest{OfferingID: offeringID, Rating: 5}))

	offering, err := f.Offerings.Get(context.Background(), offeringID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), offering.TotalUsage)
	assert.Equal(t, uint64(500), offering.Rating)

	rental, err := f.rentals.GetRental(context.Background(), rentalID)
	require.NoError(t, err)
	assert.Equal(t, rentaldomain.StatusActive, rental.Status)

	record, err := f.svc.GetUsageRecord(context.Background(), recordID)
	require.NoError(t, err)
	assert.True(t, record.Verified)
}

func TestDigestIsStable(t *testing.T) {
	record := usagedomain.UsageRecord{RentalID: 1, OfferingID: 2, JobID: "job", ComputeTimeMs: 5}
	assert.Equal(t, Digest(record), Digest(record))

	changed := record
	changed.ComputeTimeMs = 6
	assert.NotEqual(t, Digest(record), Digest(changed))
}

func TestDigestSeparatesFieldBoundaries(t *testing.T) {
	a := usagedomain.UsageRecord{JobID: "j|10", ComputeTimeMs: 5, ResourcesUsed: 7, InputHash: "in"}
	b := usagedomain.UsageRecord{JobID: "j", ComputeTimeMs: 10, ResourcesUsed: 5, InputHash: "7|in"}
	assert.NotEqual(t, Digest(a), Digest(b))

	c := usagedomain.UsageRecord{Renter: "0xab", ComputeProvider: "c"}
	d := usagedomain.UsageRecord{Renter: "0xa", ComputeProvider: "bc"}
	assert.NotEqual(t, Digest(c), Digest(d))
}
