package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/votemap/secroll/captcha"
	"github.com/votemap/secroll/pace"
	"github.com/votemap/secroll/session"
)

// machine runs the CAPTCHA attempt loop for one station:
//
//	FORM_READY → CAPTURE → SOLVE → SUBMIT → {ACCEPTED, REJECTED} → (RETRY | FAIL)
//
// One CAPTCHA token is valid for exactly one submission, so attempts
// are strictly sequential: a second capture would invalidate the image
// already in flight. An empty or garbled transcription retries without
// submitting at all, since the live token was never spent.
type machine struct {
	sess   session.Session
	solver captcha.Solver
	sched  *pace.Scheduler
	sel    session.Selectors

	maxRetries   int
	resultWait   time.Duration
	pollInterval time.Duration
	logger       *slog.Logger
}

const (
	outcomeAccepted   = "accepted"
	outcomeRejected   = "rejected"
	outcomeTimeout    = "result wait timed out"
	outcomeUnsolvable = "solver returned no transcription"
	outcomeSolverErr  = "solver endpoint error"
	outcomeCaptureErr = "captcha capture failed"
	outcomeSubmitErr  = "form submit failed"
)

// run drives attempts until the portal accepts a submission or retries
// are exhausted. The form must already be filled (FORM_READY). Returns
// the number of attempts consumed; on exhaustion the error wraps
// ErrCaptchaExhausted with the last outcome.
//
// ctx is honored between attempts only, never mid-submit.
func (m *machine) run(ctx context.Context) (int, error) {
	lastOutcome := ""

	for attempt := 1; attempt <= m.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, fmt.Errorf("extract: cancelled: %w", err)
		}

		outcome, err := m.attempt(ctx, attempt)
		if err != nil {
			return attempt, err
		}
		if outcome == outcomeAccepted {
			m.sched.Success(pace.Submit)
			return attempt, nil
		}
		lastOutcome = outcome
	}

	return m.maxRetries, fmt.Errorf("%w after %d attempts: %s",
		ErrCaptchaExhausted, m.maxRetries, lastOutcome)
}

// attempt runs one CAPTURE→SOLVE→SUBMIT cycle. A non-accepted outcome
// with a nil error means retry; a non-nil error aborts the station
// (cancellation only — portal trouble is an outcome, not an error).
func (m *machine) attempt(ctx context.Context, n int) (string, error) {
	log := m.logger

	// CAPTURE: always from the live element. The portal rotates the
	// image per request; after a rejection we ask for a fresh one
	// explicitly.
	if n > 1 {
		if err := m.sess.ReloadCaptcha(ctx); err != nil {
			log.Warn("extract: captcha reload failed", "attempt", n, "error", err)
		}
	}
	if err := m.sched.Wait(ctx, pace.Capture); err != nil {
		return "", err
	}
	image, err := m.sess.CaptureElement(ctx, m.sel.CaptchaImage)
	if err != nil {
		m.sched.Failure(pace.Capture)
		log.Warn("extract: captcha capture failed", "attempt", n, "error", err)
		return outcomeCaptureErr, nil
	}
	m.sched.Success(pace.Capture)
	fp := fingerprint(image)

	// SOLVE: the solver is an untrusted oracle. Endpoint failures and
	// empty transcriptions retry without spending the submit.
	text, err := m.solver.Solve(ctx, image)
	if err != nil {
		log.Warn("extract: solver error", "attempt", n, "image", fp, "error", err)
		return outcomeSolverErr, nil
	}
	if text == "" {
		log.Info("extract: captcha unsolvable, retrying",
			"attempt", n, "image", fp)
		return outcomeUnsolvable, nil
	}

	// SUBMIT: pacing applies immediately before the network-facing
	// transition.
	if err := m.sched.Wait(ctx, pace.Submit); err != nil {
		return "", err
	}
	if err := m.sess.Fill(ctx, m.sel.CaptchaInput, text); err != nil {
		m.sched.Failure(pace.Submit)
		log.Warn("extract: captcha fill failed", "attempt", n, "error", err)
		return outcomeSubmitErr, nil
	}
	// The container can still hold the previous attempt's error markup;
	// drop it so the poll below sees only this submission's outcome.
	if err := m.sess.ClearResult(ctx); err != nil {
		log.Warn("extract: result clear failed", "attempt", n, "error", err)
	}
	if err := m.sess.Submit(ctx); err != nil {
		m.sched.Failure(pace.Submit)
		log.Warn("extract: submit failed", "attempt", n, "error", err)
		return outcomeSubmitErr, nil
	}

	outcome := m.awaitResult(ctx)
	log.Info("extract: captcha attempt",
		"attempt", n, "image", fp, "solution", text, "outcome", outcome)
	if outcome != outcomeAccepted {
		m.sched.Failure(pace.Submit)
	}
	return outcome, nil
}

// awaitResult polls the page kind under a bounded wait. A timeout is a
// rejection, never a hang.
func (m *machine) awaitResult(ctx context.Context) string {
	deadline := time.Now().Add(m.resultWait)

	for time.Now().Before(deadline) {
		if err := sleepCtx(ctx, m.pollInterval); err != nil {
			return outcomeTimeout
		}
		kind, err := m.sess.PageKind(ctx)
		if err != nil {
			m.logger.Warn("extract: page kind check failed", "error", err)
			continue
		}
		switch kind {
		case session.KindResults:
			return outcomeAccepted
		case session.KindError:
			return outcomeRejected
		}
		// Still the form: the portal is slow, keep polling.
	}
	return outcomeTimeout
}

func fingerprint(image []byte) string {
	sum := sha256.Sum256(image)
	return hex.EncodeToString(sum[:])[:12]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
