package turn

import (
	"fmt"
	"strings"

	"parley/pkg/prompt"
)

// Rejection reasons, used for metrics and retry logging.
const (
	RejectEmpty      = "empty"
	RejectRepeat     = "repeat"
	RejectOffTopic   = "off_topic"
	RejectTopicShift = "topic_shift"
	RejectShallow    = "shallow"
)

// recentWindow is how many prior assistant replies the uniqueness check
// compares against.
const recentWindow = 5

var topicShiftPhrases = []string{
	"anyway,",
	"by the way",
	"moving on",
	"on another note",
	"let's change the subject",
	"lets change the subject",
	"let's talk about something else",
	"speaking of something else",
}

// Validate gates a candidate reply. recent holds prior assistant replies
// newest first; plan is the guard context the candidate was generated
// under. It returns ("", true) on acceptance or a rejection reason.
func Validate(candidate string, recent []string, plan prompt.Plan) (string, bool) {
	if strings.TrimSpace(candidate) == "" {
		return RejectEmpty, false
	}

	norm := prompt.Normalize(candidate)
	limit := len(recent)
	if limit > recentWindow {
		limit = recentWindow
	}
	for _, prev := range recent[:limit] {
		if prompt.Normalize(prev) == norm {
			return RejectRepeat, false
		}
	}

	if plan.TopicActive {
		if reason, ok := checkTopic(candidate, plan.Keywords); !ok {
			return reason, false
		}
	}

	if plan.DepthActive && len(prompt.SplitSentences(candidate)) < 3 {
		return RejectShallow, false
	}

	return "", true
}

// checkTopic enforces that the reply opens on the pinned topic. With no
// keywords available the check degrades to the sentence-count floor only.
func checkTopic(candidate string, keywords []string) (string, bool) {
	sents := prompt.SplitSentences(candidate)
	if len(sents) < 2 {
		return RejectShallow, false
	}
	if len(keywords) == 0 {
		return "", true
	}

	lower := strings.ToLower(candidate)
	first := strings.ToLower(sents[0])

	anywhere := false
	inFirst := false
	for _, kw := range keywords {
		if strings.Contains(first, kw) {
			inFirst = true
			anywhere = true
			break
		}
		if strings.Contains(lower, kw) {
			anywhere = true
		}
	}
	if inFirst {
		return "", true
	}
	for _, phrase := range topicShiftPhrases {
		if strings.Contains(lower, phrase) && !anywhere {
			return RejectTopicShift, false
		}
	}
	return RejectOffTopic, false
}

// CheckFormat reports whether an accepted candidate conforms to the
// free-tier reply shape: a single paragraph in the sentence and word bands,
// with no line breaks or list markers. Paid-tier replies are never
// reshaped.
func CheckFormat(candidate string, plan prompt.Plan) bool {
	if plan.Paid {
		return true
	}
	trimmed := strings.TrimSpace(candidate)
	if strings.ContainsAny(trimmed, "\n\r") {
		return false
	}
	if looksLikeList(trimmed) {
		return false
	}
	f := plan.Format
	if n := len(prompt.SplitSentences(trimmed)); n < f.MinSentences || n > f.MaxSentences {
		return false
	}
	if w := prompt.WordCount(trimmed); w < f.MinWords || w > f.MaxWords {
		return false
	}
	return true
}

func looksLikeList(text string) bool {
	for _, marker := range []string{"- ", "* ", "• ", "1. ", "1) "} {
		if strings.HasPrefix(text, marker) || strings.Contains(text, " "+marker) {
			return true
		}
	}
	return false
}

// StrictFormatDirective is the escalation re-prompt injected when an
// accepted candidate violates the free-tier format.
func StrictFormatDirective(plan prompt.Plan) string {
	f := plan.Format
	return fmt.Sprintf(
		"Your previous reply broke the required format. Rewrite your answer as ONE paragraph of %d to %d sentences and %d to %d words, with no line breaks, bullets, or numbered lists.",
		f.MinSentences, f.MaxSentences, f.MinWords, f.MaxWords,
	)
}
