package stt

import "testing"

func TestDecodeCompleteResultSingle(t *testing.T) {
	r, err := DecodeCompleteResult([]byte(`{"text": "hello world"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	single, ok := r.(SingleResult)
	if !ok || single.Text != "hello world" {
		t.Fatalf("expected single result, got %#v", r)
	}
}

func TestDecodeCompleteResultAlternatives(t *testing.T) {
	r, err := DecodeCompleteResult([]byte(`{"alternatives": [{"confidence": 311.2, "text": "hello world"}, {"confidence": 300.1, "text": "hello word"}]}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	multi, ok := r.(MultipleResult)
	if !ok || len(multi.Alternatives) != 2 {
		t.Fatalf("expected two alternatives, got %#v", r)
	}
	if BestText(r) != "hello world" {
		t.Fatalf("expected first alternative, got %q", BestText(r))
	}
}

func TestDecodePartialResult(t *testing.T) {
	p, err := DecodePartialResult([]byte(`{"partial": "hel"}`))
	if err != nil || p.Partial != "hel" {
		t.Fatalf("unexpected partial %+v %v", p, err)
	}
	if _, err := DecodePartialResult([]byte(`not json`)); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestPCMBytesLittleEndian(t *testing.T) {
	got := PCMBytes([]int16{1, -2})
	want := []byte{0x01, 0x00, 0xfe, 0xff}
	if string(got) != string(want) {
		t.Fatalf("expected %x, got %x", want, got)
	}
}
