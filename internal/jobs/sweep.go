package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/astroconnect/call-billing-go/internal/audit"
	"github.com/astroconnect/call-billing-go/internal/model"
	"github.com/astroconnect/call-billing-go/internal/repository"
)

// CallCanceller cancels a call and its billing. Satisfied by the pairing of
// CallStateService and BillingService through SweepTargets.
type CallCanceller interface {
	CancelCall(ctx context.Context, callID string, reason *string) (bool, error)
}

type BillingCanceller interface {
	CancelBilling(ctx context.Context, callID string) error
}

// SweepJob cancels calls that got stuck on the way to a conversation: pending
// calls nobody accepted, and accepted calls whose participants never
// connected. Clients that died mid-handshake leave exactly these rows behind.
type SweepJob struct {
	callRepo       repository.CallRepository
	calls          CallCanceller
	billing        BillingCanceller
	pendingTimeout time.Duration
	connectTimeout time.Duration
	interval       time.Duration
	done           chan struct{}
}

func NewSweepJob(
	callRepo repository.CallRepository,
	calls CallCanceller,
	billing BillingCanceller,
	pendingTimeout time.Duration,
	connectTimeout time.Duration,
	interval time.Duration,
) *SweepJob {
	return &SweepJob{
		callRepo:       callRepo,
		calls:          calls,
		billing:        billing,
		pendingTimeout: pendingTimeout,
		connectTimeout: connectTimeout,
		interval:       interval,
		done:           make(chan struct{}),
	}
}

func (j *SweepJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("timeout sweep job started")
}

func (j *SweepJob) Stop() {
	close(j.done)
	log.Info().Msg("timeout sweep job stopped")
}

func (j *SweepJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.Sweep()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.Sweep()
		}
	}
}

// Sweep runs one pass. Exported so operators can trigger it out of schedule.
func (j *SweepJob) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	now := time.Now()
	calls, err := j.callRepo.FindTimedOut(ctx, now.Add(-j.pendingTimeout), now.Add(-j.connectTimeout))
	if err != nil {
		log.Error().Err(err).Msg("failed to scan for timed out calls")
		return
	}

	swept := 0
	for i := range calls {
		if j.sweepCall(ctx, &calls[i]) {
			swept++
		}
	}
	if swept > 0 {
		log.Info().Int("count", swept).Msg("cancelled timed out calls")
	}
}

func (j *SweepJob) sweepCall(ctx context.Context, call *model.CallSession) bool {
	reason := timeoutReason(call.Status)
	cancelled, err := j.calls.CancelCall(ctx, call.ID, &reason)
	if err != nil {
		log.Error().Err(err).Str("callId", call.ID).Msg("failed to cancel timed out call")
		return false
	}
	if !cancelled {
		// The call progressed between the scan and the cancel. Leave it be.
		return false
	}

	if err := j.billing.CancelBilling(ctx, call.ID); err != nil {
		log.Error().Err(err).Str("callId", call.ID).Msg("failed to cancel billing for timed out call")
	}

	audit.Log(ctx, audit.Event{
		Type:   audit.EventSweepCancelled,
		CallID: call.ID,
		UserID: call.UserID,
		Details: map[string]interface{}{
			"status": string(call.Status),
			"reason": reason,
			"age":    time.Since(call.CreatedAt).String(),
		},
	})
	return true
}

func timeoutReason(status model.CallStatus) string {
	if status == model.CallStatusPending {
		return fmt.Sprintf("not accepted within timeout (status %s)", status)
	}
	return fmt.Sprintf("participants never connected (status %s)", status)
}
