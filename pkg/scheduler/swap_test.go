package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arnavshah/shift-planner/pkg/models"
	"github.com/arnavshah/shift-planner/pkg/store"
)

func (f *fixture) submit(s SwapSubmission) *models.SwapRequest {
	f.t.Helper()
	req, err := f.p.SubmitSwap(context.Background(), s)
	require.NoError(f.t, err)
	return req
}

func (f *fixture) evaluate(id string) *models.SwapOutcome {
	f.t.Helper()
	out, err := f.p.EvaluateSwap(context.Background(), id)
	require.NoError(f.t, err)
	return out
}

func (f *fixture) swap(id string) models.SwapRequest {
	f.t.Helper()
	r, err := f.repo.GetSwapRequest(context.Background(), id)
	require.NoError(f.t, err)
	return *r
}

func TestSwap_GiveawayOfProposedAssignment(t *testing.T) {
	f := newFixture(t, "ops",
		engineer("a", 0, models.ProficiencyBasic),
		engineer("b", 0, models.ProficiencyBasic),
	)
	inst := f.instance(waakdienstTemplate("ops"), day(2))
	f.assign("as-1", "a", inst, models.AssignmentProposed)

	req := f.submit(SwapSubmission{RequesterID: "a", SourceAssignmentID: "as-1", TargetUserID: "b", Note: "holiday"})
	assert.Equal(t, models.SwapPending, req.Status)
	assert.Equal(t, clockStart.Add(48*time.Hour), req.ExpiresAt)

	out := f.evaluate(req.ID)
	assert.Equal(t, models.SwapAccepted, out.Status)
	require.Len(t, out.Assignments, 1)

	a := f.assignment("as-1")
	assert.Equal(t, "b", a.UserID)
	assert.Equal(t, models.AssignmentProposed, a.Status)
	assert.Equal(t, models.SourceSwap, a.Source)
	assert.Equal(t, 2, a.Version)
	assert.Equal(t, models.SwapAccepted, f.swap(req.ID).Status)
	assert.True(t, f.ytd("b", models.CategoryWaakdienst).IsZero())
}

func TestSwap_GiveawayOfConfirmedAssignmentMovesLedger(t *testing.T) {
	f := newFixture(t, "ops",
		engineer("a", 4, models.ProficiencyBasic),
		engineer("b", 0, models.ProficiencyBasic),
	)
	inst := f.instance(waakdienstTemplate("ops"), day(2))
	f.assign("as-1", "a", inst, models.AssignmentConfirmed)

	req := f.submit(SwapSubmission{RequesterID: "a", SourceAssignmentID: "as-1", TargetUserID: "b"})
	out := f.evaluate(req.ID)
	require.Equal(t, models.SwapAccepted, out.Status)

	assert.Equal(t, 3.0, f.ytd("a", models.CategoryWaakdienst).Weeks)
	assert.Equal(t, 1.0, f.ytd("b", models.CategoryWaakdienst).Weeks)
	assert.Equal(t, 1.0, f.p.Ledger().Read("b", models.CategoryWaakdienst).Weeks)
	assert.Equal(t, models.AssignmentConfirmed, f.assignment("as-1").Status)
}

func TestSwap_DirectExchangeNetsLedgerAtCap(t *testing.T) {
	f := newFixture(t, "ops",
		engineer("a", 52, models.ProficiencyBasic),
		engineer("b", 52, models.ProficiencyBasic),
	)
	tmpl := waakdienstTemplate("ops")
	first := f.instance(tmpl, day(2))
	second := f.instance(tmpl, day(9))
	f.assign("as-a", "a", first, models.AssignmentConfirmed)
	f.assign("as-b", "b", second, models.AssignmentConfirmed)

	req := f.submit(SwapSubmission{RequesterID: "a", SourceAssignmentID: "as-a", TargetUserID: "b", TargetAssignmentID: "as-b"})
	assert.Equal(t, models.SwapDirect, req.Kind())

	out := f.evaluate(req.ID)
	require.Equal(t, models.SwapAccepted, out.Status, out.Reason)
	assert.Len(t, out.Assignments, 2)

	assert.Equal(t, "b", f.assignment("as-a").UserID)
	assert.Equal(t, "a", f.assignment("as-b").UserID)
	assert.Equal(t, 52.0, f.ytd("a", models.CategoryWaakdienst).Weeks)
	assert.Equal(t, 52.0, f.ytd("b", models.CategoryWaakdienst).Weeks)
}

func TestSwap_RejectedLeavesAssignmentsUntouched(t *testing.T) {
	tests := []struct {
		name   string
		target func() *models.User
		setup  func(f *fixture)
		reason ReasonCode
	}{
		{
			name: "receiver lacks certification",
			target: func() *models.User {
				u := engineer("b", 0, models.ProficiencyExpert)
				u.Skills[0].Certified = false
				return u
			},
			reason: ReasonMissingSkill,
		},
		{
			name:   "receiver already works overlapping shift",
			target: func() *models.User { return engineer("b", 0, models.ProficiencyBasic) },
			setup: func(f *fixture) {
				other := f.instance(dailyTemplate("day", "ops", "09:00", "17:00", "incident", 1), day(3))
				f.assign("b-day", "b", other, models.AssignmentConfirmed)
			},
			reason: ReasonConflict,
		},
		{
			name: "receiver blacked out",
			target: func() *models.User {
				u := engineer("b", 0, models.ProficiencyBasic)
				u.Availability.Blackouts = []models.DateRange{{From: day(4), To: day(4)}}
				return u
			},
			reason: ReasonBlackedOut,
		},
		{
			name:   "receiver would exceed cap",
			target: func() *models.User { return engineer("b", 51.5, models.ProficiencyBasic) },
			reason: ReasonCapExceeded,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "ops", engineer("a", 4, models.ProficiencyBasic), tt.target())
			inst := f.instance(waakdienstTemplate("ops"), day(2))
			f.assign("as-1", "a", inst, models.AssignmentConfirmed)
			if tt.setup != nil {
				tt.setup(f)
			}
			bYTD := f.ytd("b", models.CategoryWaakdienst)

			req := f.submit(SwapSubmission{RequesterID: "a", SourceAssignmentID: "as-1", TargetUserID: "b"})
			out := f.evaluate(req.ID)
			assert.Equal(t, models.SwapRejected, out.Status)
			assert.Equal(t, string(tt.reason), out.Reason)
			assert.Empty(t, out.Assignments)

			stored := f.swap(req.ID)
			assert.Equal(t, models.SwapRejected, stored.Status)
			assert.Equal(t, string(tt.reason), stored.Reason)
			require.NotNil(t, stored.ResolvedAt)

			a := f.assignment("as-1")
			assert.Equal(t, "a", a.UserID)
			assert.Equal(t, 1, a.Version)
			assert.Equal(t, 4.0, f.ytd("a", models.CategoryWaakdienst).Weeks)
			assert.Equal(t, bYTD, f.ytd("b", models.CategoryWaakdienst))
		})
	}
}

func TestSwap_StorageFailureLeavesBothSidesUnchanged(t *testing.T) {
	tests := []struct {
		name   string
		direct bool
	}{
		{"giveaway", false},
		{"direct exchange", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "ops",
				engineer("a", 4, models.ProficiencyBasic),
				engineer("b", 2, models.ProficiencyBasic),
			)
			tmpl := waakdienstTemplate("ops")
			f.assign("as-a", "a", f.instance(tmpl, day(2)), models.AssignmentConfirmed)
			sub := SwapSubmission{RequesterID: "a", SourceAssignmentID: "as-a", TargetUserID: "b"}
			if tt.direct {
				f.assign("as-b", "b", f.instance(tmpl, day(9)), models.AssignmentConfirmed)
				sub.TargetAssignmentID = "as-b"
			}
			req := f.submit(sub)
			aYTD := f.ytd("a", models.CategoryWaakdienst)
			bYTD := f.ytd("b", models.CategoryWaakdienst)

			boom := errors.New("connection reset")
			f.repo.FailPersist(boom)
			_, err := f.p.EvaluateSwap(context.Background(), req.ID)
			require.ErrorIs(t, err, boom)
			f.repo.FailPersist(nil)

			a := f.assignment("as-a")
			assert.Equal(t, "a", a.UserID)
			assert.Equal(t, models.AssignmentConfirmed, a.Status)
			assert.Equal(t, 1, a.Version)
			if tt.direct {
				b := f.assignment("as-b")
				assert.Equal(t, "b", b.UserID)
				assert.Equal(t, models.AssignmentConfirmed, b.Status)
				assert.Equal(t, 1, b.Version)
			}
			assert.Equal(t, aYTD, f.ytd("a", models.CategoryWaakdienst))
			assert.Equal(t, bYTD, f.ytd("b", models.CategoryWaakdienst))
			assert.Equal(t, aYTD, f.p.Ledger().Read("a", models.CategoryWaakdienst))
			assert.Equal(t, bYTD, f.p.Ledger().Read("b", models.CategoryWaakdienst))
			assert.Equal(t, models.SwapPending, f.swap(req.ID).Status)

			out := f.evaluate(req.ID)
			assert.Equal(t, models.SwapAccepted, out.Status, "the request is still evaluable once storage recovers")
		})
	}
}

func TestSwap_Expired(t *testing.T) {
	f := newFixture(t, "ops",
		engineer("a", 0, models.ProficiencyBasic),
		engineer("b", 0, models.ProficiencyBasic),
	)
	inst := f.instance(waakdienstTemplate("ops"), day(2))
	f.assign("as-1", "a", inst, models.AssignmentProposed)

	req := f.submit(SwapSubmission{RequesterID: "a", SourceAssignmentID: "as-1", TargetUserID: "b", ExpiresAt: clockStart.Add(time.Hour)})
	f.now = clockStart.Add(time.Hour)

	out := f.evaluate(req.ID)
	assert.Equal(t, models.SwapExpired, out.Status)
	assert.Equal(t, string(ReasonSwapExpired), out.Reason)
	assert.Equal(t, "a", f.assignment("as-1").UserID)
}

func TestSwap_EvaluateTwiceIsNotPending(t *testing.T) {
	f := newFixture(t, "ops",
		engineer("a", 0, models.ProficiencyBasic),
		engineer("b", 0, models.ProficiencyBasic),
	)
	inst := f.instance(waakdienstTemplate("ops"), day(2))
	f.assign("as-1", "a", inst, models.AssignmentProposed)

	req := f.submit(SwapSubmission{RequesterID: "a", SourceAssignmentID: "as-1", TargetUserID: "b"})
	f.evaluate(req.ID)

	_, err := f.p.EvaluateSwap(context.Background(), req.ID)
	assert.Equal(t, ReasonNotPending, ReasonOf(err))
}

func TestSwap_UnknownRequest(t *testing.T) {
	f := newFixture(t, "ops")
	_, err := f.p.EvaluateSwap(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSwap_OpenShift(t *testing.T) {
	f := newFixture(t, "ops",
		engineer("a", 0, models.ProficiencyBasic),
		engineer("b", 0, models.ProficiencyBasic),
	)
	tmpl := dailyTemplate("day", "ops", "09:00", "17:00", "incident", 1)
	mon := f.instance(tmpl, day(0))
	tue := f.instance(tmpl, day(1))
	f.assign("as-1", "a", mon, models.AssignmentConfirmed)
	before := f.ytd("a", models.CategoryIncident)

	req := f.submit(SwapSubmission{RequesterID: "a", SourceAssignmentID: "as-1", TargetInstanceID: tue.ID})
	assert.Equal(t, models.SwapOpenShift, req.Kind())

	out := f.evaluate(req.ID)
	require.Equal(t, models.SwapAccepted, out.Status, out.Reason)
	require.Len(t, out.Assignments, 2)

	assert.Equal(t, models.AssignmentCancelled, f.assignment("as-1").Status)
	occupying := f.occupying("a")
	require.Len(t, occupying, 1)
	moved := occupying[0]
	assert.Equal(t, tue.ID, moved.InstanceID)
	assert.Equal(t, models.AssignmentConfirmed, moved.Status)
	assert.Equal(t, models.SourceSwap, moved.Source)
	require.NotNil(t, moved.ConfirmedAt)
	assert.InDelta(t, before.Weeks, f.ytd("a", models.CategoryIncident).Weeks, 1e-9)
}

func TestSwap_OpenShiftFull(t *testing.T) {
	f := newFixture(t, "ops",
		engineer("a", 0, models.ProficiencyBasic),
		engineer("b", 0, models.ProficiencyBasic),
	)
	tmpl := dailyTemplate("day", "ops", "09:00", "17:00", "incident", 1)
	mon := f.instance(tmpl, day(0))
	tue := f.instance(tmpl, day(1))
	f.assign("as-1", "a", mon, models.AssignmentProposed)
	f.assign("as-2", "b", tue, models.AssignmentProposed)

	req := f.submit(SwapSubmission{RequesterID: "a", SourceAssignmentID: "as-1", TargetInstanceID: tue.ID})
	out := f.evaluate(req.ID)
	assert.Equal(t, models.SwapRejected, out.Status)
	assert.Equal(t, string(ReasonOpenShiftFull), out.Reason)
	assert.Equal(t, models.AssignmentProposed, f.assignment("as-1").Status)
}

func TestSubmitSwap_Validation(t *testing.T) {
	f := newFixture(t, "ops",
		engineer("a", 0, models.ProficiencyBasic),
		engineer("b", 0, models.ProficiencyBasic),
	)
	inst := f.instance(waakdienstTemplate("ops"), day(2))
	f.assign("as-1", "a", inst, models.AssignmentProposed)
	f.assign("as-done", "a", f.instance(waakdienstTemplate("ops"), day(9)), models.AssignmentCompleted)

	tests := []struct {
		name   string
		sub    SwapSubmission
		reason ReasonCode
	}{
		{"no target", SwapSubmission{RequesterID: "a", SourceAssignmentID: "as-1"}, ReasonInvalidSwap},
		{"user and instance", SwapSubmission{RequesterID: "a", SourceAssignmentID: "as-1", TargetUserID: "b", TargetInstanceID: inst.ID}, ReasonInvalidSwap},
		{"with yourself", SwapSubmission{RequesterID: "a", SourceAssignmentID: "as-1", TargetUserID: "a"}, ReasonInvalidSwap},
		{"not the owner", SwapSubmission{RequesterID: "b", SourceAssignmentID: "as-1", TargetUserID: "a"}, ReasonInvalidSwap},
		{"expiry in the past", SwapSubmission{RequesterID: "a", SourceAssignmentID: "as-1", TargetUserID: "b", ExpiresAt: clockStart.Add(-time.Minute)}, ReasonInvalidSwap},
		{"completed source", SwapSubmission{RequesterID: "a", SourceAssignmentID: "as-done", TargetUserID: "b"}, ReasonInvalidTransition},
		{"open shift on own instance", SwapSubmission{RequesterID: "a", SourceAssignmentID: "as-1", TargetInstanceID: inst.ID}, ReasonInvalidSwap},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.p.SubmitSwap(context.Background(), tt.sub)
			assert.Equal(t, tt.reason, ReasonOf(err))
		})
	}

	_, err := f.p.SubmitSwap(context.Background(), SwapSubmission{RequesterID: "a", SourceAssignmentID: "as-1", TargetUserID: "ghost"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSwap_ConcurrentRequestsForSameAssignment(t *testing.T) {
	f := newFixture(t, "ops",
		engineer("a", 0, models.ProficiencyBasic),
		engineer("b", 0, models.ProficiencyBasic),
		engineer("c", 0, models.ProficiencyBasic),
	)
	inst := f.instance(waakdienstTemplate("ops"), day(2))
	f.assign("as-1", "a", inst, models.AssignmentProposed)

	toB := f.submit(SwapSubmission{RequesterID: "a", SourceAssignmentID: "as-1", TargetUserID: "b"})
	toC := f.submit(SwapSubmission{RequesterID: "a", SourceAssignmentID: "as-1", TargetUserID: "c"})

	var wg sync.WaitGroup
	outs := make([]*models.SwapOutcome, 2)
	errs := make([]error, 2)
	for i, id := range []string{toB.ID, toC.ID} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			outs[i], errs[i] = f.p.EvaluateSwap(context.Background(), id)
		}(i, id)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	accepted := 0
	for _, out := range outs {
		if out.Status == models.SwapAccepted {
			accepted++
			continue
		}
		assert.Equal(t, models.SwapRejected, out.Status)
		assert.Equal(t, string(ReasonInvalidSwap), out.Reason)
	}
	assert.Equal(t, 1, accepted)
	assert.Contains(t, []string{"b", "c"}, f.assignment("as-1").UserID)
	requireNoDoubleBooking(t, f.repo)
}
