package prompt

import (
	"fmt"
	"strings"
)

// GuardKind tags the situational system directives injected ahead of the
// conversation history.
type GuardKind string

const (
	GuardLengthPolicy GuardKind = "length_policy"
	GuardTopicFocus   GuardKind = "topic_focus"
	GuardSafety       GuardKind = "safety"
	GuardPacing       GuardKind = "pacing"
	GuardFlirtMirror  GuardKind = "flirt_mirror"
	GuardDepth        GuardKind = "depth"
)

// Directive is one guard instruction. Directives are emitted in a fixed
// priority order: length policy first, then topic pinning, then
// safety/pacing/flirt, then depth. Later directives must not contradict the
// length policy.
type Directive struct {
	Kind GuardKind
	Text string
}

// FormatPolicy is the free-tier reply shape band.
type FormatPolicy struct {
	MinSentences int
	MaxSentences int
	MinWords     int
	MaxWords     int
}

// GuardInput is everything guard assembly depends on. Assembly is a pure
// function of this value.
type GuardInput struct {
	// NSFW is the effective state: character flag AND consented-adult
	// eligibility
	NSFW bool
	// UserTurns is how many user messages the session already holds
	UserTurns int
	// PacingThreshold is the turn count at which NSFW pacing stops
	PacingThreshold int
	Paid            bool
	Signals         Signals
	Format          FormatPolicy
}

// Plan is the assembled guard set plus the context the reply validator
// needs to enforce it.
type Plan struct {
	Directives []Directive
	// Keywords back the topic-adherence check when TopicActive
	Keywords    []string
	TopicActive bool
	// DepthActive turns on the 3-sentence minimum (NSFW past pacing)
	DepthActive bool
	Paid        bool
	LongForm    bool
	Format      FormatPolicy
}

// Assemble builds the ordered directive list for one turn.
func Assemble(in GuardInput) Plan {
	sig := in.Signals
	topicActive := sig.Flirty || (in.NSFW && sig.TopicFocus != "")
	pacing := in.NSFW && in.UserTurns < in.PacingThreshold

	plan := Plan{
		Keywords:    sig.Keywords,
		TopicActive: topicActive,
		DepthActive: in.NSFW && in.UserTurns >= in.PacingThreshold,
		Paid:        in.Paid,
		LongForm:    sig.LongForm,
		Format:      in.Format,
	}

	plan.Directives = append(plan.Directives, Directive{
		Kind: GuardLengthPolicy,
		Text: lengthPolicyText(in.Paid, sig.LongForm, in.Format),
	})

	if topicActive && sig.TopicFocus != "" {
		plan.Directives = append(plan.Directives, Directive{
			Kind: GuardTopicFocus,
			Text: topicFocusText(sig.TopicFocus, sig.Keywords),
		})
	}

	if !in.NSFW {
		plan.Directives = append(plan.Directives, Directive{
			Kind: GuardSafety,
			Text: "Keep the conversation wholesome. If the user steers toward explicit or adult content, gently deflect and redirect to a different subject while staying warm and in character.",
		})
	}

	if pacing {
		plan.Directives = append(plan.Directives, Directive{
			Kind: GuardPacing,
			Text: "The relationship is still new. Keep the tone suggestive at most, never explicit; build tension gradually and let the user set the pace.",
		})
	}

	if sig.Flirty {
		plan.Directives = append(plan.Directives, Directive{
			Kind: GuardFlirtMirror,
			Text: "The user is being flirtatious. Mirror their energy and affection in your reply without overshooting it.",
		})
	}

	plan.Directives = append(plan.Directives, Directive{
		Kind: GuardDepth,
		Text: depthText(in.Paid, sig.LongForm),
	})

	return plan
}

func lengthPolicyText(paid, longForm bool, f FormatPolicy) string {
	if paid {
		if longForm {
			return "Write a rich, immersive reply of several paragraphs. Stay in character throughout and give the scene room to breathe."
		}
		return "Write a substantial reply of one to three paragraphs with vivid, in-character detail."
	}
	return fmt.Sprintf(
		"Reply in exactly %d to %d sentences as a single paragraph of %d to %d words. Never use line breaks, bullet points, or numbered lists.",
		f.MinSentences, f.MaxSentences, f.MinWords, f.MaxWords,
	)
}

func topicFocusText(focus string, keywords []string) string {
	txt := fmt.Sprintf("Your first sentence must directly answer what the user just asked: %q. Only elaborate after that.", focus)
	if len(keywords) > 0 {
		txt += " Touch on: " + strings.Join(keywords, ", ") + "."
	}
	return txt
}

func depthText(paid, longForm bool) string {
	if paid && longForm {
		return "Go deep: explore feelings, sensory detail, and consequences rather than summarizing."
	}
	if longForm {
		return "Engage fully with the scenario the user set up instead of answering in generalities."
	}
	return "Respond thoughtfully rather than with filler, and end in a way that invites the user to continue."
}
