package turn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"parley/pkg/completion"
	"parley/pkg/logger"
	"parley/pkg/models"
	"parley/pkg/prompt"
	"parley/pkg/telemetry"
)

// Decoding caps. Paid-tier prompts tolerate wilder sampling before output
// quality collapses.
const (
	freeTempCap = 1.05
	paidTempCap = 1.2
	topPCap     = 0.98
	repPenCap   = 1.3
)

// ParamsForAttempt derives the decoding parameters for attempt n (0-based)
// from the base profile. Deterministic so tests can assert the schedule:
// each retry nudges temperature, top_p and repetition penalty upward to
// shake the sampler out of whatever the validator rejected.
func ParamsForAttempt(n int, base completion.DecodingParams, paid bool) completion.DecodingParams {
	p := base
	if n <= 0 {
		return p
	}
	step := float64(n)
	p.Temperature = base.Temperature + 0.07*step
	p.TopP = base.TopP + 0.02*step
	p.RepetitionPenalty = base.RepetitionPenalty + 0.03*step

	tempCap := freeTempCap
	if paid {
		tempCap = paidTempCap
	}
	if p.Temperature > tempCap {
		p.Temperature = tempCap
	}
	if p.TopP > topPCap {
		p.TopP = topPCap
	}
	if p.RepetitionPenalty > repPenCap {
		p.RepetitionPenalty = repPenCap
	}
	return p
}

// maxFormatReprompts bounds the stricter re-prompt escalation for free-tier
// format violations.
const maxFormatReprompts = 2

// Retrier drives bounded sequential re-generation: up to maxAttempts
// validated attempts, then one final unconstrained emergency call.
type Retrier struct {
	Client      completion.Client
	Model       string
	Base        completion.DecodingParams
	MaxAttempts int
}

// Generate produces one accepted reply for the composed message list.
// recent holds prior assistant replies newest first. Attempts run strictly
// sequentially; validation rejections are consumed here and never surface
// to the caller.
func (r *Retrier) Generate(ctx context.Context, msgs []completion.Message, plan prompt.Plan, recent []string) (string, error) {
	maxAttempts := r.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	var lastErr error
	formatReprompts := 0
	working := msgs

	for attempt := 0; attempt < maxAttempts; attempt++ {
		params := ParamsForAttempt(attempt, r.Base, plan.Paid)
		candidate, err := r.call(ctx, working, params)
		if err != nil {
			lastErr = err
			logger.Warn("generation_attempt_failed", "attempt", attempt, "error", err)
			continue
		}

		reason, ok := Validate(candidate, recent, plan)
		if !ok {
			telemetry.RejectionsTotal.WithLabelValues(reason).Inc()
			logger.Debug("candidate_rejected", "attempt", attempt, "reason", reason)
			continue
		}

		if CheckFormat(candidate, plan) {
			return strings.TrimSpace(candidate), nil
		}
		// accepted content, wrong shape: escalate with a stricter
		// re-prompt instead of burning a validation attempt
		telemetry.RejectionsTotal.WithLabelValues("format").Inc()
		if formatReprompts < maxFormatReprompts {
			formatReprompts++
			working = append(append([]completion.Message(nil), msgs...), completion.Message{
				Role:    string(models.RoleSystem),
				Content: StrictFormatDirective(plan),
			})
			attempt--
			continue
		}
		// out of re-prompts: ship the readable reply rather than fail
		// the turn over formatting
		logger.Warn("format_enforcement_exhausted")
		return strings.TrimSpace(candidate), nil
	}

	// emergency retry: one unconstrained call, accepted if non-empty
	candidate, err := r.call(ctx, msgs, r.Base)
	if err == nil && strings.TrimSpace(candidate) != "" {
		logger.Warn("emergency_retry_accepted")
		return strings.TrimSpace(candidate), nil
	}
	if err != nil {
		lastErr = err
	}
	if lastErr == nil {
		lastErr = completion.ErrUpstreamInvalidResponse
	}
	if !isUpstreamErr(lastErr) {
		lastErr = fmt.Errorf("%w: %v", completion.ErrUpstreamUnavailable, lastErr)
	}
	return "", fmt.Errorf("generation exhausted after %d attempts: %w", maxAttempts+1, lastErr)
}

func (r *Retrier) call(ctx context.Context, msgs []completion.Message, params completion.DecodingParams) (string, error) {
	telemetry.AttemptsTotal.Inc()
	start := time.Now()
	text, err := r.Client.Complete(ctx, msgs, params, r.Model)
	telemetry.UpstreamSeconds.Observe(time.Since(start).Seconds())
	return text, err
}

func isUpstreamErr(err error) bool {
	return errors.Is(err, completion.ErrUpstreamUnavailable) ||
		errors.Is(err, completion.ErrUpstreamTimeout) ||
		errors.Is(err, completion.ErrUpstreamInvalidResponse)
}
