package ralph

import "testing"

func TestMatchFatalDetectsCompaction(t *testing.T) {
	ok, text := MatchFatal("the assistant is now Compacting conversation to free up space")
	if !ok {
		t.Fatal("expected fatal pattern match")
	}
	if text == "" {
		t.Fatal("expected non-empty matched text")
	}
}

func TestMatchFatalNoMatch(t *testing.T) {
	if ok, _ := MatchFatal("everything is fine here"); ok {
		t.Fatal("expected no match")
	}
}

func TestMatchStuckDetectsLoginPicker(t *testing.T) {
	ok, _ := MatchStuck("? Select login method\n> Claude.ai account")
	if !ok {
		t.Fatal("expected stuck pattern match")
	}
}

func TestExtractContextPercentTakesLastMatch(t *testing.T) {
	content := "context left: 80%\ncontext left: 42%\n"
	pct, ok := ExtractContextPercent(content)
	if !ok {
		t.Fatal("expected a match")
	}
	if pct != 42 {
		t.Fatalf("expected 42, got %d", pct)
	}
}

func TestExtractContextPercentNoMatch(t *testing.T) {
	if _, ok := ExtractContextPercent("nothing to see here"); ok {
		t.Fatal("expected no match")
	}
}

func TestMatchDonePatternIgnoresContentBeforeBaseline(t *testing.T) {
	st := &State{DonePattern: `/done`}
	content := "line1: please say /done when finished\nline2\nline3\nline4: /done\n"
	lines := splitLines(content)

	matched, err := MatchDonePattern(st, content, len(lines))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if matched {
		t.Fatal("expected no match when baseline is past all current lines")
	}

	matched, err = MatchDonePattern(st, content, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !matched {
		t.Fatal("expected a match when scanning from the start")
	}
}

func TestMatchDonePatternEmptyPatternNeverMatches(t *testing.T) {
	st := &State{DonePattern: ""}
	matched, err := MatchDonePattern(st, "anything /done", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if matched {
		t.Fatal("expected no match with empty done pattern")
	}
}
