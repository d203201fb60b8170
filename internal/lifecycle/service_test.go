package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/fault"
	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/request"
	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/infrastructure/postgres"
	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/routing"
)

type fakeRequestStore struct {
	requests map[string]*request.BloodRequest

	cancelled    []string
	patched      []string
	flaggedIDs   []string
	lastFilters  postgres.Filters
	failNextFlag error
}

func newFakeRequestStore(reqs ...*request.BloodRequest) *fakeRequestStore {
	s := &fakeRequestStore{requests: make(map[string]*request.BloodRequest)}
	for _, r := range reqs {
		s.requests[r.ID] = r
	}
	return s
}

func (s *fakeRequestStore) Create(_ context.Context, r *request.BloodRequest) error {
	s.requests[r.ID] = r
	return nil
}

func (s *fakeRequestStore) Get(_ context.Context, id string) (*request.BloodRequest, error) {
	r, ok := s.requests[id]
	if !ok {
		return nil, fault.NotFound("blood request %s not found", id)
	}
	return r, nil
}

func (s *fakeRequestStore) List(_ context.Context, f postgres.Filters) ([]*request.BloodRequest, error) {
	s.lastFilters = f
	var out []*request.BloodRequest
	for _, r := range s.requests {
		if f.RequesterID != "" && r.RequesterID != f.RequesterID {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *fakeRequestStore) ApplyPatch(_ context.Context, id string, p *request.Patch) error {
	r, ok := s.requests[id]
	if !ok {
		return fault.NotFound("blood request %s not found", id)
	}
	if r.Status != request.StatusPending {
		return fault.Conflict("request %s is %s, only pending requests can be edited", id, r.Status)
	}
	s.patched = append(s.patched, id)
	return nil
}

func (s *fakeRequestStore) CancelPending(_ context.Context, id string) error {
	r, ok := s.requests[id]
	if !ok {
		return fault.NotFound("blood request %s not found", id)
	}
	if r.Status != request.StatusPending {
		return fault.Conflict("request %s is %s, only pending requests can be cancelled", id, r.Status)
	}
	r.Status = request.StatusCancelled
	s.cancelled = append(s.cancelled, id)
	return nil
}

func (s *fakeRequestStore) FlagManualRouting(_ context.Context, id string) error {
	if s.failNextFlag != nil {
		return s.failNextFlag
	}
	r, ok := s.requests[id]
	if !ok {
		return fault.NotFound("blood request %s not found", id)
	}
	r.NeedsManualRouting = true
	s.flaggedIDs = append(s.flaggedIDs, id)
	return nil
}

type fakeRoutingStore struct {
	assignments map[string]*request.RoutingAssignment

	accepted   []string
	fulfilled  []string
	fulfillErr error
	lastFinal  request.Status
}

func key(requestID, bankID string) string { return requestID + "|" + bankID }

func newFakeRoutingStore(assignments ...*request.RoutingAssignment) *fakeRoutingStore {
	s := &fakeRoutingStore{assignments: make(map[string]*request.RoutingAssignment)}
	for _, a := range assignments {
		s.assignments[key(a.RequestID, a.BloodBankID)] = a
	}
	return s
}

func (s *fakeRoutingStore) Get(_ context.Context, requestID, bankID string) (*request.RoutingAssignment, error) {
	a, ok := s.assignments[key(requestID, bankID)]
	if !ok {
		return nil, fault.NotFound("no routing assignment for request %s and bank %s", requestID, bankID)
	}
	return a, nil
}

func (s *fakeRoutingStore) ListByRequest(_ context.Context, requestID string) ([]*request.RoutingAssignment, error) {
	var out []*request.RoutingAssignment
	for _, a := range s.assignments {
		if a.RequestID == requestID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *fakeRoutingStore) Accept(_ context.Context, requestID, bankID string, unitsOffered int, _ string) error {
	a := s.assignments[key(requestID, bankID)]
	a.Status = request.RoutingAccepted
	a.UnitsOffered = &unitsOffered
	s.accepted = append(s.accepted, bankID)
	return nil
}

func (s *fakeRoutingStore) Reject(_ context.Context, requestID, bankID, _ string) (bool, error) {
	s.assignments[key(requestID, bankID)].Status = request.RoutingRejected
	for _, a := range s.assignments {
		if a.RequestID == requestID && a.Status != request.RoutingRejected {
			return false, nil
		}
	}
	return true, nil
}

func (s *fakeRoutingStore) Fulfill(_ context.Context, requestID, bankID string, unitsOffered int, finalStatus request.Status) error {
	if s.fulfillErr != nil {
		return s.fulfillErr
	}
	s.assignments[key(requestID, bankID)].Status = request.RoutingFulfilled
	s.fulfilled = append(s.fulfilled, bankID)
	s.lastFinal = finalStatus
	return nil
}

type fakeRouter struct {
	result *routing.Result
	err    error
	routed []string
}

func (f *fakeRouter) Route(_ context.Context, req *request.BloodRequest) (*routing.Result, error) {
	f.routed = append(f.routed, req.ID)
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &routing.Result{Mode: "standard"}, nil
}

type fakeEmitter struct {
	notifications []postgres.NotificationEvent
	audits        []postgres.AuditEvent
	requestEvents []postgres.RequestLifecycleEvent
	routingEvents []postgres.RoutingLifecycleEvent
}

func (f *fakeEmitter) Notify(_ context.Context, ev postgres.NotificationEvent) error {
	f.notifications = append(f.notifications, ev)
	return nil
}

func (f *fakeEmitter) Audit(_ context.Context, ev postgres.AuditEvent) error {
	f.audits = append(f.audits, ev)
	return nil
}

func (f *fakeEmitter) RequestEvent(_ context.Context, ev postgres.RequestLifecycleEvent) error {
	f.requestEvents = append(f.requestEvents, ev)
	return nil
}

func (f *fakeEmitter) RoutingEvent(_ context.Context, ev postgres.RoutingLifecycleEvent) error {
	f.routingEvents = append(f.routingEvents, ev)
	return nil
}

func validCreateInput(requesterID string) *request.CreateInput {
	return &request.CreateInput{
		RequesterID:   requesterID,
		RequesterType: request.RequesterHospital,
		BloodGroup:    "A+",
		UnitsRequired: 2,
		Priority:      request.PriorityUrgent,
		RequiredBy:    time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC),
	}
}

func newService(reqs *fakeRequestStore, routings *fakeRoutingStore, router *fakeRouter, emitter *fakeEmitter) *Service {
	return NewService(reqs, routings, router, emitter, nil)
}

func TestCreateRequestRoutesAndAudits(t *testing.T) {
	reqs := newFakeRequestStore()
	router := &fakeRouter{result: &routing.Result{
		Mode: "standard",
		AssignedBanks: []request.RoutingAssignment{
			{BloodBankID: "bank-1"}, {BloodBankID: "bank-2"},
		},
	}}
	emitter := &fakeEmitter{}
	svc := newService(reqs, newFakeRoutingStore(), router, emitter)

	result, err := svc.CreateRequest(context.Background(), validCreateInput("hosp-1"), owner)
	require.NoError(t, err)

	assert.Equal(t, request.StatusPending, result.Request.Status)
	assert.Equal(t, 2, result.RoutedBankCount)
	assert.Equal(t, "standard", result.RoutingMode)
	assert.Len(t, router.routed, 1)
	require.Len(t, emitter.audits, 1)
	assert.Equal(t, "request_created", emitter.audits[0].Action)
	require.Len(t, emitter.requestEvents, 1)
	assert.Equal(t, "created", emitter.requestEvents[0].EventType)
	assert.Equal(t, result.Request.ID, emitter.requestEvents[0].RequestID)
}

func TestCreateRequestRejectsForeignRequester(t *testing.T) {
	svc := newService(newFakeRequestStore(), newFakeRoutingStore(), &fakeRouter{}, &fakeEmitter{})

	_, err := svc.CreateRequest(context.Background(), validCreateInput("hosp-other"), owner)
	assert.True(t, fault.IsKind(err, fault.KindAuthorization))
}

func TestCreateRequestAdminMayActForOthers(t *testing.T) {
	svc := newService(newFakeRequestStore(), newFakeRoutingStore(), &fakeRouter{}, &fakeEmitter{})

	_, err := svc.CreateRequest(context.Background(), validCreateInput("hosp-other"), admin)
	assert.NoError(t, err)
}

func TestCreateRequestSurvivesRoutingFailure(t *testing.T) {
	reqs := newFakeRequestStore()
	router := &fakeRouter{err: fault.TransientStore(nil, "candidate scan failed")}
	svc := newService(reqs, newFakeRoutingStore(), router, &fakeEmitter{})

	result, err := svc.CreateRequest(context.Background(), validCreateInput("hosp-1"), owner)
	require.NoError(t, err, "a committed request must not fail with its routing pass")

	assert.Equal(t, 0, result.RoutedBankCount)
	assert.Contains(t, reqs.requests, result.Request.ID)
}

func TestListRequestsScopesNonAdmins(t *testing.T) {
	reqs := newFakeRequestStore(
		&request.BloodRequest{ID: "req-1", RequesterID: "hosp-1"},
		&request.BloodRequest{ID: "req-2", RequesterID: "hosp-2"},
	)
	svc := newService(reqs, newFakeRoutingStore(), &fakeRouter{}, &fakeEmitter{})

	out, err := svc.ListRequests(context.Background(), postgres.Filters{}, owner)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "req-1", out[0].ID)

	// Banks browse all open demand.
	out, err = svc.ListRequests(context.Background(), postgres.Filters{}, bank)
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestUpdateRequestCancelOnlyWhilePending(t *testing.T) {
	reqs := newFakeRequestStore(
		&request.BloodRequest{ID: "req-1", RequesterID: "hosp-1", Status: request.StatusPending},
		&request.BloodRequest{ID: "req-2", RequesterID: "hosp-1", Status: request.StatusApproved},
	)
	svc := newService(reqs, newFakeRoutingStore(), &fakeRouter{}, &fakeEmitter{})

	err := svc.UpdateRequest(context.Background(), "req-1", &request.Patch{Cancel: true}, owner)
	require.NoError(t, err)
	assert.Equal(t, request.StatusCancelled, reqs.requests["req-1"].Status)

	err = svc.UpdateRequest(context.Background(), "req-2", &request.Patch{Cancel: true}, owner)
	assert.True(t, fault.IsKind(err, fault.KindConflict),
		"cancelling an approved request must conflict, got %v", err)
	assert.Equal(t, request.StatusApproved, reqs.requests["req-2"].Status)
}

func TestUpdateRequestRejectsEmptyPatch(t *testing.T) {
	reqs := newFakeRequestStore(
		&request.BloodRequest{ID: "req-1", RequesterID: "hosp-1", Status: request.StatusPending},
	)
	svc := newService(reqs, newFakeRoutingStore(), &fakeRouter{}, &fakeEmitter{})

	err := svc.UpdateRequest(context.Background(), "req-1", &request.Patch{}, owner)
	assert.True(t, fault.IsKind(err, fault.KindValidation))
}

func TestUpdateRequestRejectsStranger(t *testing.T) {
	reqs := newFakeRequestStore(
		&request.BloodRequest{ID: "req-1", RequesterID: "hosp-1", Status: request.StatusPending},
	)
	svc := newService(reqs, newFakeRoutingStore(), &fakeRouter{}, &fakeEmitter{})

	units := 4
	err := svc.UpdateRequest(context.Background(), "req-1", &request.Patch{UnitsRequired: &units}, stranger)
	assert.True(t, fault.IsKind(err, fault.KindAuthorization))
}

func TestRespondApprovePromotesAssignment(t *testing.T) {
	reqs := newFakeRequestStore(
		&request.BloodRequest{ID: "req-1", RequesterID: "hosp-1", Status: request.StatusPending, UnitsRequired: 3},
	)
	routings := newFakeRoutingStore(
		&request.RoutingAssignment{RequestID: "req-1", BloodBankID: "bank-1", Status: request.RoutingAssigned},
	)
	emitter := &fakeEmitter{}
	svc := newService(reqs, routings, &fakeRouter{}, emitter)

	in := &RespondInput{Action: request.ActionApprove, UnitsOffered: 3}
	err := svc.RespondToRouting(context.Background(), "req-1", "bank-1", in, bank)
	require.NoError(t, err)

	assert.Equal(t, []string{"bank-1"}, routings.accepted)
	require.NotEmpty(t, emitter.notifications)
	assert.Equal(t, "request_approved", emitter.notifications[0].Category)
	assert.Equal(t, "hosp-1", emitter.notifications[0].UserID)
	require.Len(t, emitter.routingEvents, 1)
	assert.Equal(t, "accepted", emitter.routingEvents[0].EventType)
	assert.Equal(t, "bank-1", emitter.routingEvents[0].BloodBankID)
}

func TestRespondRequiresPositiveUnits(t *testing.T) {
	svc := newService(newFakeRequestStore(), newFakeRoutingStore(), &fakeRouter{}, &fakeEmitter{})

	in := &RespondInput{Action: request.ActionApprove, UnitsOffered: 0}
	err := svc.RespondToRouting(context.Background(), "req-1", "bank-1", in, bank)
	assert.True(t, fault.IsKind(err, fault.KindValidation))

	in = &RespondInput{Action: request.RoutingAction("maybe")}
	err = svc.RespondToRouting(context.Background(), "req-1", "bank-1", in, bank)
	assert.True(t, fault.IsKind(err, fault.KindValidation))
}

func TestRespondFulfillBeforeAcceptConflicts(t *testing.T) {
	reqs := newFakeRequestStore(
		&request.BloodRequest{ID: "req-1", RequesterID: "hosp-1", Status: request.StatusPending, UnitsRequired: 3},
	)
	routings := newFakeRoutingStore(
		&request.RoutingAssignment{RequestID: "req-1", BloodBankID: "bank-1", Status: request.RoutingAssigned},
	)
	svc := newService(reqs, routings, &fakeRouter{}, &fakeEmitter{})

	in := &RespondInput{Action: request.ActionFulfill, UnitsOffered: 3}
	err := svc.RespondToRouting(context.Background(), "req-1", "bank-1", in, bank)
	assert.True(t, fault.IsKind(err, fault.KindConflict))
	assert.Empty(t, routings.fulfilled)
}

func TestRespondLastRejectionFlagsManualRouting(t *testing.T) {
	reqs := newFakeRequestStore(
		&request.BloodRequest{ID: "req-1", RequesterID: "hosp-1", Status: request.StatusPending, UnitsRequired: 3},
	)
	routings := newFakeRoutingStore(
		&request.RoutingAssignment{RequestID: "req-1", BloodBankID: "bank-1", Status: request.RoutingAssigned},
		&request.RoutingAssignment{RequestID: "req-1", BloodBankID: "bank-2", Status: request.RoutingRejected},
	)
	svc := newService(reqs, routings, &fakeRouter{}, &fakeEmitter{})

	in := &RespondInput{Action: request.ActionReject, Notes: "no stock"}
	err := svc.RespondToRouting(context.Background(), "req-1", "bank-1", in, bank)
	require.NoError(t, err)

	assert.True(t, reqs.requests["req-1"].NeedsManualRouting,
		"a fully rejected request must be flagged, never silently lost")
}

func TestRespondPartialRejectionDoesNotFlag(t *testing.T) {
	reqs := newFakeRequestStore(
		&request.BloodRequest{ID: "req-1", RequesterID: "hosp-1", Status: request.StatusPending, UnitsRequired: 3},
	)
	routings := newFakeRoutingStore(
		&request.RoutingAssignment{RequestID: "req-1", BloodBankID: "bank-1", Status: request.RoutingAssigned},
		&request.RoutingAssignment{RequestID: "req-1", BloodBankID: "bank-2", Status: request.RoutingAssigned},
	)
	svc := newService(reqs, routings, &fakeRouter{}, &fakeEmitter{})

	in := &RespondInput{Action: request.ActionReject}
	err := svc.RespondToRouting(context.Background(), "req-1", "bank-1", in, bank)
	require.NoError(t, err)

	assert.False(t, reqs.requests["req-1"].NeedsManualRouting)
}

func TestRespondFulfillComputesFinalStatus(t *testing.T) {
	cases := []struct {
		name      string
		offered   int
		wantFinal request.Status
	}{
		{"full coverage", 3, request.StatusFulfilled},
		{"over coverage", 5, request.StatusFulfilled},
		{"partial coverage", 2, request.StatusPartiallyFulfilled},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reqs := newFakeRequestStore(
				&request.BloodRequest{ID: "req-1", RequesterID: "hosp-1", Status: request.StatusApproved, UnitsRequired: 3},
			)
			routings := newFakeRoutingStore(
				&request.RoutingAssignment{RequestID: "req-1", BloodBankID: "bank-1", Status: request.RoutingAccepted},
			)
			emitter := &fakeEmitter{}
			svc := newService(reqs, routings, &fakeRouter{}, emitter)

			in := &RespondInput{Action: request.ActionFulfill, UnitsOffered: tc.offered}
			err := svc.RespondToRouting(context.Background(), "req-1", "bank-1", in, bank)
			require.NoError(t, err)

			assert.Equal(t, tc.wantFinal, routings.lastFinal)
			require.NotEmpty(t, emitter.notifications)
			assert.Equal(t, "request_fulfilled", emitter.notifications[0].Category)
			require.Len(t, emitter.routingEvents, 1)
			assert.Equal(t, "fulfilled", emitter.routingEvents[0].EventType)
			require.Len(t, emitter.requestEvents, 1)
			assert.Equal(t, string(tc.wantFinal), emitter.requestEvents[0].EventType)
		})
	}
}

func TestRespondFulfillPropagatesInsufficientStock(t *testing.T) {
	reqs := newFakeRequestStore(
		&request.BloodRequest{ID: "req-1", RequesterID: "hosp-1", Status: request.StatusApproved, UnitsRequired: 3},
	)
	routings := newFakeRoutingStore(
		&request.RoutingAssignment{RequestID: "req-1", BloodBankID: "bank-1", Status: request.RoutingAccepted},
	)
	routings.fulfillErr = fault.InsufficientStock("bank bank-1 cannot cover 3 units of A+")
	emitter := &fakeEmitter{}
	svc := newService(reqs, routings, &fakeRouter{}, emitter)

	in := &RespondInput{Action: request.ActionFulfill, UnitsOffered: 3}
	err := svc.RespondToRouting(context.Background(), "req-1", "bank-1", in, bank)
	assert.True(t, fault.IsKind(err, fault.KindInsufficientStock))
	assert.Empty(t, emitter.notifications, "failed fulfillment must not notify")
}

func TestRespondRejectsForeignBank(t *testing.T) {
	reqs := newFakeRequestStore(
		&request.BloodRequest{ID: "req-1", RequesterID: "hosp-1", Status: request.StatusPending, UnitsRequired: 3},
	)
	routings := newFakeRoutingStore(
		&request.RoutingAssignment{RequestID: "req-1", BloodBankID: "bank-1", Status: request.RoutingAssigned},
	)
	svc := newService(reqs, routings, &fakeRouter{}, &fakeEmitter{})

	in := &RespondInput{Action: request.ActionApprove, UnitsOffered: 1}
	err := svc.RespondToRouting(context.Background(), "req-1", "bank-1", in, bankTwo)
	assert.True(t, fault.IsKind(err, fault.KindAuthorization))
}

func TestGetRequestIncludesAssignments(t *testing.T) {
	reqs := newFakeRequestStore(
		&request.BloodRequest{ID: "req-1", RequesterID: "hosp-1", Status: request.StatusPending},
	)
	routings := newFakeRoutingStore(
		&request.RoutingAssignment{RequestID: "req-1", BloodBankID: "bank-1", Status: request.RoutingAssigned},
	)
	svc := newService(reqs, routings, &fakeRouter{}, &fakeEmitter{})

	detail, err := svc.GetRequest(context.Background(), "req-1", owner)
	require.NoError(t, err)
	assert.Len(t, detail.Assignments, 1)

	_, err = svc.GetRequest(context.Background(), "req-1", stranger)
	assert.True(t, fault.IsKind(err, fault.KindAuthorization))

	_, err = svc.GetRequest(context.Background(), "req-missing", owner)
	assert.True(t, fault.IsKind(err, fault.KindNotFound))
}
