package turn

import (
	"context"
	"errors"
	"strings"
	"testing"

	"parley/pkg/completion"
	"parley/pkg/prompt"
)

// scriptedClient returns queued replies (or errors) in order and records
// every call it saw.
type scriptedClient struct {
	replies []string
	errs    []error
	calls   []recordedCall
}

type recordedCall struct {
	msgs   []completion.Message
	params completion.DecodingParams
}

func (c *scriptedClient) Complete(_ context.Context, msgs []completion.Message, params completion.DecodingParams, _ string) (string, error) {
	c.calls = append(c.calls, recordedCall{msgs: msgs, params: params})
	i := len(c.calls) - 1
	var err error
	if i < len(c.errs) {
		err = c.errs[i]
	}
	var reply string
	if i < len(c.replies) {
		reply = c.replies[i]
	}
	return reply, err
}

var baseParams = completion.DecodingParams{Temperature: 0.8, TopP: 0.9, RepetitionPenalty: 1.1, MaxTokens: 512}

func almostEqual(a, b float64) bool {
	d := a - b
	return d < 1e-9 && d > -1e-9
}

func TestParamsForAttemptSchedule(t *testing.T) {
	p0 := ParamsForAttempt(0, baseParams, false)
	if p0.Temperature != baseParams.Temperature || p0.TopP != baseParams.TopP || p0.RepetitionPenalty != baseParams.RepetitionPenalty {
		t.Fatalf("attempt 0 must use the base profile, got %+v", p0)
	}
	p1 := ParamsForAttempt(1, baseParams, false)
	if !almostEqual(p1.Temperature, 0.87) || !almostEqual(p1.TopP, 0.92) || !almostEqual(p1.RepetitionPenalty, 1.13) {
		t.Fatalf("attempt 1 schedule wrong: %+v", p1)
	}
	p9 := ParamsForAttempt(9, baseParams, false)
	if p9.Temperature != 1.05 || p9.TopP != 0.98 || p9.RepetitionPenalty != 1.3 {
		t.Fatalf("caps not applied: %+v", p9)
	}
	paid := ParamsForAttempt(9, baseParams, true)
	if paid.Temperature != 1.2 {
		t.Fatalf("paid temperature cap wrong: %+v", paid)
	}
}

func TestGenerateFirstAttemptAccepted(t *testing.T) {
	c := &scriptedClient{replies: []string{"A fine reply. It has depth."}}
	r := &Retrier{Client: c, Model: "m", Base: baseParams, MaxAttempts: 3}
	got, err := r.Generate(context.Background(), nil, prompt.Plan{Paid: true}, nil)
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if got != "A fine reply. It has depth." {
		t.Fatalf("unexpected reply: %q", got)
	}
	if len(c.calls) != 1 {
		t.Fatalf("expected a single call, got %d", len(c.calls))
	}
}

func TestGenerateRetriesRejectedCandidates(t *testing.T) {
	recent := []string{"Same old answer."}
	c := &scriptedClient{replies: []string{
		"Same old answer.",
		"A fresh answer instead.",
	}}
	r := &Retrier{Client: c, Model: "m", Base: baseParams, MaxAttempts: 3}
	got, err := r.Generate(context.Background(), nil, prompt.Plan{Paid: true}, recent)
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if got != "A fresh answer instead." {
		t.Fatalf("unexpected reply: %q", got)
	}
	if len(c.calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(c.calls))
	}
	if c.calls[1].params.Temperature <= c.calls[0].params.Temperature {
		t.Fatalf("retry must raise temperature: %+v then %+v", c.calls[0].params, c.calls[1].params)
	}
}

func TestGenerateFormatRepromptDoesNotBurnAttempts(t *testing.T) {
	good := strings.TrimSpace(strings.Repeat("word ", 14)) + ". " +
		strings.TrimSpace(strings.Repeat("word ", 14)) + ". " +
		strings.TrimSpace(strings.Repeat("word ", 14)) + "."
	c := &scriptedClient{replies: []string{
		"Valid content.\nBut two lines.",
		good,
	}}
	r := &Retrier{Client: c, Model: "m", Base: baseParams, MaxAttempts: 1}
	plan := prompt.Plan{Format: freeFormat}
	got, err := r.Generate(context.Background(), nil, plan, nil)
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if got != good {
		t.Fatalf("unexpected reply: %q", got)
	}
	// the re-prompt must arrive as an extra system message
	second := c.calls[1].msgs
	last := second[len(second)-1]
	if last.Role != "system" || !strings.Contains(last.Content, "broke the required format") {
		t.Fatalf("strict re-prompt missing: %+v", last)
	}
}

func TestGenerateShipsReadableReplyWhenRepromptsExhausted(t *testing.T) {
	bad := "Readable content.\nWrong shape though."
	c := &scriptedClient{replies: []string{bad, bad, bad}}
	r := &Retrier{Client: c, Model: "m", Base: baseParams, MaxAttempts: 1}
	got, err := r.Generate(context.Background(), nil, prompt.Plan{Format: freeFormat}, nil)
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if got != bad {
		t.Fatalf("exhausted enforcement must still ship the reply, got %q", got)
	}
	if len(c.calls) != 3 {
		t.Fatalf("expected 3 calls (initial + 2 re-prompts), got %d", len(c.calls))
	}
}

func TestGenerateEmergencyRetry(t *testing.T) {
	recent := []string{"dup"}
	c := &scriptedClient{replies: []string{"dup", "dup", "dup", "Emergency answer."}}
	r := &Retrier{Client: c, Model: "m", Base: baseParams, MaxAttempts: 3}
	got, err := r.Generate(context.Background(), nil, prompt.Plan{Paid: true}, recent)
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if got != "Emergency answer." {
		t.Fatalf("emergency retry must accept any non-empty reply, got %q", got)
	}
	if len(c.calls) != 4 {
		t.Fatalf("expected 4 calls, got %d", len(c.calls))
	}
	if last := c.calls[3].params; last.Temperature != baseParams.Temperature || last.TopP != baseParams.TopP {
		t.Fatalf("emergency call must use the base profile: %+v", last)
	}
}

func TestGenerateExhaustedReturnsUpstreamError(t *testing.T) {
	errs := []error{
		completion.ErrUpstreamUnavailable,
		completion.ErrUpstreamUnavailable,
		completion.ErrUpstreamUnavailable,
		completion.ErrUpstreamUnavailable,
	}
	c := &scriptedClient{errs: errs}
	r := &Retrier{Client: c, Model: "m", Base: baseParams, MaxAttempts: 3}
	_, err := r.Generate(context.Background(), nil, prompt.Plan{Paid: true}, nil)
	if err == nil {
		t.Fatalf("expected error after exhaustion")
	}
	if !errors.Is(err, completion.ErrUpstreamUnavailable) {
		t.Fatalf("error must wrap the upstream sentinel: %v", err)
	}
}
