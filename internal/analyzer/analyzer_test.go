package analyzer

import (
	"reflect"
	"testing"
)

func TestTokenizeDropsStopwordsAndShortTokens(t *testing.T) {
	got := Tokenize("The cat sat on a mat, and it was fine. OK?")
	want := []string{"cat", "sat", "mat", "fine", "ok"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Tokenize = %v, want %v", got, want)
	}
}

func TestTokenizeLowercasesAndNormalizes(t *testing.T) {
	got := Tokenize("CAFÉ Deadline")
	want := []string{"café", "deadline"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Tokenize = %v, want %v", got, want)
	}
}

func TestTermFrequenciesCounts(t *testing.T) {
	freqs := TermFrequencies("deploy deploy rollback deploy")
	if freqs["deploy"] != 3 {
		t.Fatalf("deploy count = %d, want 3", freqs["deploy"])
	}
	if freqs["rollback"] != 1 {
		t.Fatalf("rollback count = %d, want 1", freqs["rollback"])
	}
}

func TestIsStopword(t *testing.T) {
	if !IsStopword("the") {
		t.Fatalf("expected 'the' to be a stopword")
	}
	if IsStopword("deploy") {
		t.Fatalf("did not expect 'deploy' to be a stopword")
	}
}
