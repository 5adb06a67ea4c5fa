package terminal

import (
	"bytes"
	"testing"
)

func TestClearCurrentLineIsIdempotent(t *testing.T) {
	var once, twice bytes.Buffer

	a := NewWithMode(&once, true)
	_ = a.WritePartial("hello")
	_ = a.ClearCurrentLine()

	b := NewWithMode(&twice, true)
	_ = b.WritePartial("hello")
	_ = b.ClearCurrentLine()
	_ = b.ClearCurrentLine()

	if once.String() != twice.String() {
		t.Fatalf("second clear changed output: %q vs %q", once.String(), twice.String())
	}
}

func TestClearWithNothingWrittenIsNoop(t *testing.T) {
	var buf bytes.Buffer
	term := NewWithMode(&buf, true)
	if err := term.ClearCurrentLine(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %q", buf.String())
	}
}

func TestPartialThenFinal(t *testing.T) {
	var buf bytes.Buffer
	term := NewWithMode(&buf, true)

	_ = term.WritePartial("hel")
	_ = term.WritePartial("hello")
	_ = term.WriteFinal("hello world")
	_ = term.WritePartial("next")

	want := "\rhel" + clearLine + "\rhello" + clearLine + "hello world\n" + "\rnext"
	if buf.String() != want {
		t.Fatalf("unexpected output:\n got %q\nwant %q", buf.String(), want)
	}
}

func TestEmptyPartialRendersNothing(t *testing.T) {
	var buf bytes.Buffer
	term := NewWithMode(&buf, true)
	_ = term.WritePartial("")
	_ = term.ClearCurrentLine()
	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %q", buf.String())
	}
}

func TestNonInteractiveSkipsPartials(t *testing.T) {
	var buf bytes.Buffer
	term := New(&buf)
	_ = term.WritePartial("hello")
	_ = term.ClearCurrentLine()
	_ = term.WriteFinal("hello world")
	if buf.String() != "hello world\n" {
		t.Fatalf("unexpected output %q", buf.String())
	}
}
