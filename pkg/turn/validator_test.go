package turn

import (
	"strings"
	"testing"

	"parley/pkg/prompt"
)

var freeFormat = prompt.FormatPolicy{MinSentences: 3, MaxSentences: 4, MinWords: 40, MaxWords: 90}

func TestValidateRejectsEmpty(t *testing.T) {
	if reason, ok := Validate("   \n ", nil, prompt.Plan{}); ok || reason != RejectEmpty {
		t.Fatalf("expected empty rejection, got (%q, %v)", reason, ok)
	}
}

func TestValidateRejectsRepeat(t *testing.T) {
	recent := []string{"The  sun rises\nin the east."}
	if reason, ok := Validate("The sun rises in the east.", recent, prompt.Plan{}); ok || reason != RejectRepeat {
		t.Fatalf("whitespace-normalized repeat must be rejected, got (%q, %v)", reason, ok)
	}
}

func TestValidateRepeatWindowIsBounded(t *testing.T) {
	recent := []string{"r1", "r2", "r3", "r4", "r5", "old reply"}
	if _, ok := Validate("old reply", recent, prompt.Plan{}); !ok {
		t.Fatalf("replies past the window must not count as repeats")
	}
}

func TestValidateTopicAdherence(t *testing.T) {
	plan := prompt.Plan{TopicActive: true, Keywords: []string{"dragon", "mountain"}}

	if _, ok := Validate("The dragon sleeps on gold. It wakes at dusk.", nil, plan); !ok {
		t.Fatalf("first-sentence keyword must pass")
	}
	if reason, ok := Validate("Nice weather today. The mountain was far away.", nil, plan); ok || reason != RejectOffTopic {
		t.Fatalf("keyword only later must be off-topic, got (%q, %v)", reason, ok)
	}
	if reason, ok := Validate("Anyway, let me tell you a secret. It involves treasure.", nil, plan); ok || reason != RejectTopicShift {
		t.Fatalf("shift phrase without keywords must be a topic shift, got (%q, %v)", reason, ok)
	}
	if reason, ok := Validate("One sentence only", nil, plan); ok || reason != RejectShallow {
		t.Fatalf("pinned topic needs at least two sentences, got (%q, %v)", reason, ok)
	}
	if _, ok := Validate("First thing. Second thing.", nil, prompt.Plan{TopicActive: true}); !ok {
		t.Fatalf("no keywords degrades to the sentence floor")
	}
}

func TestValidateDepthFloor(t *testing.T) {
	plan := prompt.Plan{DepthActive: true}
	if reason, ok := Validate("Short reply. Two parts.", nil, plan); ok || reason != RejectShallow {
		t.Fatalf("two sentences fail the depth floor, got (%q, %v)", reason, ok)
	}
	if _, ok := Validate("One. Two. Three.", nil, plan); !ok {
		t.Fatalf("three sentences pass the depth floor")
	}
}

func sentenceOf(words int) string {
	return strings.TrimSpace(strings.Repeat("word ", words)) + "."
}

func TestCheckFormatBands(t *testing.T) {
	plan := prompt.Plan{Format: freeFormat}
	good := sentenceOf(15) + " " + sentenceOf(15) + " " + sentenceOf(15)
	if !CheckFormat(good, plan) {
		t.Fatalf("3 sentences / 45 words must pass")
	}
	if CheckFormat(sentenceOf(20)+" "+sentenceOf(25), plan) {
		t.Fatalf("2 sentences must fail the band")
	}
	if CheckFormat(sentenceOf(10)+" "+sentenceOf(10)+" "+sentenceOf(10), plan) {
		t.Fatalf("30 words must fail the band")
	}
	if CheckFormat("First line.\nSecond line. Third part. Fourth part here now with padding words to reach forty total words in this paragraph of text okay done fine sure good yes indeed truly", plan) {
		t.Fatalf("line breaks must fail")
	}
	if CheckFormat("- "+good, plan) {
		t.Fatalf("list markers must fail")
	}
}

func TestCheckFormatPaidBypass(t *testing.T) {
	plan := prompt.Plan{Paid: true, Format: freeFormat}
	if !CheckFormat("Any\nshape\n- at all", plan) {
		t.Fatalf("paid replies are never reshaped")
	}
}

func TestStrictFormatDirectiveNamesBand(t *testing.T) {
	txt := StrictFormatDirective(prompt.Plan{Format: freeFormat})
	for _, want := range []string{"3 to 4 sentences", "40 to 90 words", "ONE paragraph"} {
		if !strings.Contains(txt, want) {
			t.Fatalf("directive missing %q: %s", want, txt)
		}
	}
}
