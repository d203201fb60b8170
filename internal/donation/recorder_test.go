package donation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/donation"
	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/donor"
	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/fault"
	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/identity"
	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/infrastructure/postgres"
)

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

type fakeDonorStore struct {
	donors map[string]*donor.Donor
}

func (f *fakeDonorStore) Get(_ context.Context, id string) (*donor.Donor, error) {
	d, ok := f.donors[id]
	if !ok {
		return nil, fault.NotFound("donor %s not found", id)
	}
	return d, nil
}

type fakeBankStore struct {
	active map[string]bool
}

func (f *fakeBankStore) ExistsActive(_ context.Context, id string) (bool, error) {
	return f.active[id], nil
}

type fakeDonationStore struct {
	recorded  []*domain.Donation
	expiries  []time.Time
	cancelled []string
	cancelErr error
}

func (f *fakeDonationStore) Record(_ context.Context, d *domain.Donation, _ domain.Vitals, expiry time.Time) error {
	d.DonationDate = fixedNow
	d.InventoryItemID = "lot-1"
	f.recorded = append(f.recorded, d)
	f.expiries = append(f.expiries, expiry)
	return nil
}

func (f *fakeDonationStore) Get(_ context.Context, id string) (*domain.Donation, error) {
	for _, d := range f.recorded {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, fault.NotFound("donation %s not found", id)
}

func (f *fakeDonationStore) Cancel(_ context.Context, id string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, id)
	return nil
}

type fakeEmitter struct {
	audits []postgres.AuditEvent
}

func (f *fakeEmitter) Audit(_ context.Context, ev postgres.AuditEvent) error {
	f.audits = append(f.audits, ev)
	return nil
}

func eligibleDonor() *donor.Donor {
	return &donor.Donor{
		ID:          "donor-1",
		BloodGroup:  "B+",
		DateOfBirth: fixedNow.AddDate(-30, 0, -1),
		Eligible:    true,
	}
}

func validInput() *domain.RecordInput {
	return &domain.RecordInput{
		DonorID:     "donor-1",
		BloodBankID: "bank-1",
		BloodGroup:  "B+",
		Units:       1,
	}
}

var staff = identity.User{ID: "bank-1", Role: identity.RoleBloodBank}

func newTestRecorder(d *donor.Donor, store *fakeDonationStore, emitter *fakeEmitter) *Recorder {
	donors := &fakeDonorStore{donors: map[string]*donor.Donor{}}
	if d != nil {
		donors.donors[d.ID] = d
	}
	banks := &fakeBankStore{active: map[string]bool{"bank-1": true}}
	return NewRecorder(donors, banks, store, emitter, DefaultConfig(), nil)
}

func TestRecordHappyPath(t *testing.T) {
	restore := nowUTC
	nowUTC = func() time.Time { return fixedNow }
	defer func() { nowUTC = restore }()

	store := &fakeDonationStore{}
	emitter := &fakeEmitter{}
	rec := newTestRecorder(eligibleDonor(), store, emitter)

	d, err := rec.Record(context.Background(), validInput(), staff)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCompleted, d.Status)
	assert.Equal(t, "lot-1", d.InventoryItemID)
	require.Len(t, store.expiries, 1)
	assert.Equal(t, fixedNow.Add(35*24*time.Hour), store.expiries[0],
		"lot expiry is collection date plus shelf life")
	assert.Equal(t, fixedNow.Add(90*24*time.Hour), d.NextEligibleAt)
	require.Len(t, emitter.audits, 1)
	assert.Equal(t, "donation_recorded", emitter.audits[0].Action)
}

func TestRecordIneligibleDonorWritesNothing(t *testing.T) {
	restore := nowUTC
	nowUTC = func() time.Time { return fixedNow }
	defer func() { nowUTC = restore }()

	recent := fixedNow.AddDate(0, 0, -30)
	d := eligibleDonor()
	d.LastDonationDate = &recent

	store := &fakeDonationStore{}
	rec := newTestRecorder(d, store, &fakeEmitter{})

	_, err := rec.Record(context.Background(), validInput(), staff)
	assert.True(t, fault.IsKind(err, fault.KindDonorNotEligible),
		"expected donor_not_eligible, got %v", err)
	assert.Empty(t, store.recorded, "ineligible donor must fail before any write")
}

func TestRecordUnderageDonorRejected(t *testing.T) {
	restore := nowUTC
	nowUTC = func() time.Time { return fixedNow }
	defer func() { nowUTC = restore }()

	d := eligibleDonor()
	d.DateOfBirth = fixedNow.AddDate(-17, 0, 0)

	store := &fakeDonationStore{}
	rec := newTestRecorder(d, store, &fakeEmitter{})

	_, err := rec.Record(context.Background(), validInput(), staff)
	assert.True(t, fault.IsKind(err, fault.KindDonorNotEligible))
	assert.Empty(t, store.recorded)
}

func TestRecordUnknownDonor(t *testing.T) {
	store := &fakeDonationStore{}
	rec := newTestRecorder(nil, store, &fakeEmitter{})

	_, err := rec.Record(context.Background(), validInput(), staff)
	assert.True(t, fault.IsKind(err, fault.KindNotFound))
}

func TestRecordInactiveBank(t *testing.T) {
	store := &fakeDonationStore{}
	rec := newTestRecorder(eligibleDonor(), store, &fakeEmitter{})

	in := validInput()
	in.BloodBankID = "bank-closed"
	_, err := rec.Record(context.Background(), in, staff)
	assert.True(t, fault.IsKind(err, fault.KindNotFound))
	assert.Empty(t, store.recorded)
}

func TestRecordValidatesInput(t *testing.T) {
	rec := newTestRecorder(eligibleDonor(), &fakeDonationStore{}, &fakeEmitter{})

	in := validInput()
	in.Units = 0
	_, err := rec.Record(context.Background(), in, staff)
	assert.True(t, fault.IsKind(err, fault.KindValidation))
}

func TestCancelRequiresStaff(t *testing.T) {
	store := &fakeDonationStore{}
	rec := newTestRecorder(eligibleDonor(), store, &fakeEmitter{})

	patient := identity.User{ID: "patient-1", Role: identity.RolePatient}
	err := rec.Cancel(context.Background(), "don-1", patient)
	assert.True(t, fault.IsKind(err, fault.KindAuthorization))
	assert.Empty(t, store.cancelled)

	err = rec.Cancel(context.Background(), "don-1", staff)
	require.NoError(t, err)
	assert.Equal(t, []string{"don-1"}, store.cancelled)
}

func TestCancelPropagatesConflict(t *testing.T) {
	store := &fakeDonationStore{cancelErr: fault.Conflict("donation don-1 is cancelled, only completed donations can be cancelled")}
	emitter := &fakeEmitter{}
	rec := newTestRecorder(eligibleDonor(), store, emitter)

	err := rec.Cancel(context.Background(), "don-1", staff)
	assert.True(t, fault.IsKind(err, fault.KindConflict))
	assert.Empty(t, emitter.audits, "failed cancellation must not audit")
}
