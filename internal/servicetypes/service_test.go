package servicetypes

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clearpath-care/clearpath/internal/audit"
	"github.com/clearpath-care/clearpath/internal/billing/units"
	"github.com/clearpath-care/clearpath/internal/shared"
)

type memoryTypeRepo struct {
	types    map[int64]*ServiceType
	rates    map[int64][]Rate
	billed   map[int64]bool
	audits   []audit.Entry
	auditErr error
	nextID   int64
}

func newMemoryTypeRepo() *memoryTypeRepo {
	return &memoryTypeRepo{
		types:  make(map[int64]*ServiceType),
		rates:  make(map[int64][]Rate),
		billed: make(map[int64]bool),
	}
}

func (r *memoryTypeRepo) CreateServiceType(ctx context.Context, input CreateInput, entry audit.Entry) (*ServiceType, error) {
	if r.auditErr != nil {
		return nil, r.auditErr
	}
	r.nextID++
	st := &ServiceType{
		ID:                    r.nextID,
		BillingCode:           input.BillingCode,
		Name:                  input.Name,
		Rules:                 input.Rules,
		MaxDailyUnits:         input.MaxDailyUnits,
		RequiresAuthorization: input.RequiresAuthorization,
		Active:                true,
		CreatedAt:             time.Now(),
		UpdatedAt:             time.Now(),
	}
	r.types[st.ID] = st
	r.rates[st.ID] = []Rate{{ID: 1, ServiceTypeID: st.ID, RatePerUnit: input.RatePerUnit, EffectiveFrom: input.EffectiveFrom}}
	r.audits = append(r.audits, entry)
	return st, nil
}

func (r *memoryTypeRepo) GetServiceType(ctx context.Context, id int64) (*ServiceType, error) {
	return r.types[id], nil
}

func (r *memoryTypeRepo) GetByBillingCode(ctx context.Context, code string) (*ServiceType, error) {
	for _, st := range r.types {
		if st.BillingCode == code {
			return st, nil
		}
	}
	return nil, nil
}

func (r *memoryTypeRepo) ListServiceTypes(ctx context.Context, activeOnly bool) ([]ServiceType, error) {
	var out []ServiceType
	for _, st := range r.types {
		if activeOnly && !st.Active {
			continue
		}
		out = append(out, *st)
	}
	return out, nil
}

func (r *memoryTypeRepo) UpdateServiceType(ctx context.Context, id int64, input UpdateInput, entry audit.Entry) error {
	if r.auditErr != nil {
		return r.auditErr
	}
	st, ok := r.types[id]
	if !ok {
		return shared.ErrNotFound
	}
	st.Name = input.Name
	st.Rules = input.Rules
	st.MaxDailyUnits = input.MaxDailyUnits
	st.Active = input.Active
	st.UpdatedAt = time.Now()
	r.audits = append(r.audits, entry)
	return nil
}

func (r *memoryTypeRepo) InsertRate(ctx context.Context, serviceTypeID int64, ratePerUnit float64, effectiveFrom time.Time, entry audit.Entry) (*Rate, error) {
	if r.auditErr != nil {
		return nil, r.auditErr
	}
	rate := Rate{ID: int64(len(r.rates[serviceTypeID]) + 1), ServiceTypeID: serviceTypeID, RatePerUnit: ratePerUnit, EffectiveFrom: effectiveFrom}
	r.rates[serviceTypeID] = append(r.rates[serviceTypeID], rate)
	r.audits = append(r.audits, entry)
	return &rate, nil
}

func (r *memoryTypeRepo) ResolveRate(ctx context.Context, serviceTypeID int64, asOf time.Time) (float64, error) {
	var best *Rate
	for i := range r.rates[serviceTypeID] {
		rate := &r.rates[serviceTypeID][i]
		if rate.EffectiveFrom.After(asOf) {
			continue
		}
		if best == nil || rate.EffectiveFrom.After(best.EffectiveFrom) {
			best = rate
		}
	}
	if best == nil {
		return 0, shared.ErrNotFound
	}
	return best.RatePerUnit, nil
}

func (r *memoryTypeRepo) HasBilledEntries(ctx context.Context, serviceTypeID int64) (bool, error) {
	return r.billed[serviceTypeID], nil
}

var testActor = shared.Actor{ID: 1, DisplayName: "Dana Reyes", Role: "admin"}

func TestCreateServiceType(t *testing.T) {
	repo := newMemoryTypeRepo()
	svc := NewService(repo)

	st, err := svc.Create(context.Background(), testActor, CreateInput{
		BillingCode:           "T1015",
		Name:                  "Home Nursing Visit",
		Rules:                 units.DefaultRules(),
		RequiresAuthorization: true,
		RatePerUnit:           24.5,
	})
	require.NoError(t, err)
	require.True(t, st.Active)
	require.Equal(t, "T1015", st.BillingCode)
	require.Len(t, repo.audits, 1)
	require.Equal(t, audit.ActionInsert, repo.audits[0].Action)
}

func TestCreateServiceTypeRejectsBadRules(t *testing.T) {
	svc := NewService(newMemoryTypeRepo())

	_, err := svc.Create(context.Background(), testActor, CreateInput{
		BillingCode: "T1015",
		Name:        "Home Nursing Visit",
		Rules:       units.Rules{IncrementMinutes: 15, MinimumBillableMinutes: 10, RoundingThresholdMinutes: 8},
		RatePerUnit: 24.5,
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestUpdateFreezesRulesOnceBilled(t *testing.T) {
	repo := newMemoryTypeRepo()
	svc := NewService(repo)

	st, err := svc.Create(context.Background(), testActor, CreateInput{
		BillingCode: "H2014",
		Name:        "Skills Training",
		Rules:       units.DefaultRules(),
		RatePerUnit: 18,
	})
	require.NoError(t, err)
	repo.billed[st.ID] = true

	changed := units.Rules{IncrementMinutes: 30, MinimumBillableMinutes: 10, RoundingThresholdMinutes: 16}
	err = svc.Update(context.Background(), testActor, st.ID, UpdateInput{Name: "Skills Training", Rules: changed, Active: true})
	require.ErrorIs(t, err, shared.ErrValidation)

	// Non-rule edits stay allowed.
	err = svc.Update(context.Background(), testActor, st.ID, UpdateInput{Name: "Skills Training II", Rules: st.Rules, Active: true})
	require.NoError(t, err)
}

func TestChangeRateIsEffectiveDated(t *testing.T) {
	repo := newMemoryTypeRepo()
	svc := NewService(repo)

	jan := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	st, err := svc.Create(context.Background(), testActor, CreateInput{
		BillingCode:   "S5125",
		Name:          "Attendant Care",
		Rules:         units.DefaultRules(),
		RatePerUnit:   20,
		EffectiveFrom: jan,
	})
	require.NoError(t, err)

	jul := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	_, err = svc.ChangeRate(context.Background(), testActor, st.ID, 22.5, jul)
	require.NoError(t, err)

	early, err := svc.RateFor(context.Background(), st.ID, jan.AddDate(0, 2, 0))
	require.NoError(t, err)
	require.Equal(t, 20.0, early)

	late, err := svc.RateFor(context.Background(), st.ID, jul.AddDate(0, 1, 0))
	require.NoError(t, err)
	require.Equal(t, 22.5, late)
}

func TestChangeRateRejectsNonPositive(t *testing.T) {
	svc := NewService(newMemoryTypeRepo())
	_, err := svc.ChangeRate(context.Background(), testActor, 1, 0, time.Time{})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestEveryCatalogMutationCarriesAnAuditEntry(t *testing.T) {
	repo := newMemoryTypeRepo()
	svc := NewService(repo)

	st, err := svc.Create(context.Background(), testActor, CreateInput{
		BillingCode: "T2021",
		Name:        "Day Habilitation",
		Rules:       units.DefaultRules(),
		RatePerUnit: 12,
	})
	require.NoError(t, err)

	err = svc.Update(context.Background(), testActor, st.ID, UpdateInput{Name: "Day Habilitation", Rules: st.Rules, Active: true})
	require.NoError(t, err)

	_, err = svc.ChangeRate(context.Background(), testActor, st.ID, 13.5, time.Now())
	require.NoError(t, err)

	require.Len(t, repo.audits, 3)
	for _, entry := range repo.audits {
		require.Equal(t, "service_type", entry.Kind)
		require.Equal(t, testActor.DisplayName, entry.ActorName)
	}
	require.Equal(t, audit.ActionInsert, repo.audits[0].Action)
	require.Equal(t, audit.ActionUpdate, repo.audits[1].Action)
	require.Equal(t, audit.ActionUpdate, repo.audits[2].Action)
}

func TestAuditFailureAbortsCatalogWrite(t *testing.T) {
	repo := newMemoryTypeRepo()
	svc := NewService(repo)

	st, err := svc.Create(context.Background(), testActor, CreateInput{
		BillingCode: "S5150",
		Name:        "Respite",
		Rules:       units.DefaultRules(),
		RatePerUnit: 8,
	})
	require.NoError(t, err)

	repo.auditErr = context.DeadlineExceeded
	err = svc.Update(context.Background(), testActor, st.ID, UpdateInput{Name: "Respite Care", Rules: st.Rules, Active: true})
	require.Error(t, err)
	require.Equal(t, "Respite", repo.types[st.ID].Name)

	_, err = svc.ChangeRate(context.Background(), testActor, st.ID, 9, time.Now())
	require.Error(t, err)
	require.Len(t, repo.rates[st.ID], 1)
}
