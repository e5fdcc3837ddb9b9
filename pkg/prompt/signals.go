package prompt

import (
	"strings"
	"unicode"
)

// Lexical signals extracted from the current user message. These are cheap
// heuristics, not a classifier: they only steer guard selection and the
// reply validator's topic check.
type Signals struct {
	// TopicFocus is the trailing clause of the message; the reply should
	// answer it before elaborating
	TopicFocus string
	// Keywords are the content words (>3 chars, stop-words removed),
	// lowercased and deduplicated
	Keywords []string
	Flirty   bool
	// LongForm marks narrative/roleplay style input that deserves a
	// longer, richer reply
	LongForm bool
}

var stopWords = map[string]struct{}{
	"about": {}, "after": {}, "again": {}, "away": {}, "because": {},
	"been": {}, "before": {}, "being": {}, "could": {}, "did": {},
	"does": {}, "doing": {}, "down": {}, "each": {}, "even": {},
	"ever": {}, "every": {}, "from": {}, "good": {}, "have": {},
	"hello": {}, "here": {}, "into": {}, "just": {}, "know": {},
	"like": {}, "made": {}, "make": {}, "many": {}, "more": {},
	"most": {}, "much": {}, "never": {}, "okay": {}, "only": {},
	"other": {}, "over": {}, "please": {}, "really": {}, "right": {},
	"said": {}, "same": {}, "should": {}, "some": {}, "something": {},
	"still": {}, "such": {}, "sure": {}, "tell": {}, "than": {},
	"that": {}, "thats": {}, "them": {}, "then": {}, "there": {},
	"these": {}, "they": {}, "thing": {}, "this": {}, "those": {},
	"till": {}, "very": {}, "want": {}, "well": {}, "were": {},
	"what": {}, "when": {}, "where": {}, "which": {}, "while": {},
	"will": {}, "with": {}, "would": {}, "your": {}, "youre": {},
}

var flirtWords = []string{
	"kiss", "cute", "love", "flirt", "darling", "babe", "baby",
	"beautiful", "gorgeous", "sexy", "honey", "sweetheart", "blush",
	"wink", "crush", "date", "romantic", "miss you", "hold you",
	"cuddle", "adorable", "charming",
}

var narrativeCues = []string{
	"*", "roleplay", "role-play", "scene", "story", "describe",
	"narrate", "imagine", "chapter", "once upon",
}

// longFormThreshold is the character length past which a message counts as
// long-form even without narrative cues.
const longFormThreshold = 280

// Extract derives all signals from the raw user text.
func Extract(raw string) Signals {
	return Signals{
		TopicFocus: TrailingClause(raw),
		Keywords:   Keywords(raw),
		Flirty:     isFlirty(raw),
		LongForm:   isLongForm(raw),
	}
}

// TrailingClause returns the last clause of the message: the text after the
// final comma (or semicolon) of the final sentence. This is what the reply
// is pinned to answer first.
func TrailingClause(raw string) string {
	sents := SplitSentences(raw)
	if len(sents) == 0 {
		return ""
	}
	last := sents[len(sents)-1]
	if i := strings.LastIndexAny(last, ",;"); i >= 0 && i+1 < len(last) {
		last = last[i+1:]
	}
	return strings.TrimSpace(last)
}

// Keywords returns the lowercased content words of the text: words longer
// than 3 characters that are not stop-words, deduplicated in order.
func Keywords(raw string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, w := range splitWords(raw) {
		w = strings.ToLower(w)
		if len(w) <= 3 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

func isFlirty(raw string) bool {
	l := strings.ToLower(raw)
	for _, w := range flirtWords {
		if strings.Contains(l, w) {
			return true
		}
	}
	return false
}

func isLongForm(raw string) bool {
	if len(raw) > longFormThreshold {
		return true
	}
	l := strings.ToLower(raw)
	for _, cue := range narrativeCues {
		if strings.Contains(l, cue) {
			return true
		}
	}
	return false
}

// SplitSentences splits text on ., !, ? and newlines, dropping empties.
func SplitSentences(text string) []string {
	var out []string
	var b strings.Builder
	flush := func() {
		s := strings.TrimSpace(b.String())
		if s != "" {
			out = append(out, s)
		}
		b.Reset()
	}
	for _, r := range text {
		switch r {
		case '.', '!', '?', '\n':
			flush()
		default:
			b.WriteRune(r)
		}
	}
	flush()
	return out
}

// WordCount counts whitespace-separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

func splitWords(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})
}

// Normalize collapses all whitespace runs to single spaces and trims. Used
// for reply uniqueness comparison.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
