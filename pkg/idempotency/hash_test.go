package idempotency

import "testing"

func TestRequestHashIgnoresKeyOrder(t *testing.T) {
	a, err := RequestHash([]byte(`{"decision":"approved","reason":"ok","nested":{"x":1,"y":2}}`))
	if err != nil {
		t.Fatalf("hash a: %v", err)
	}
	b, err := RequestHash([]byte(`{"nested":{"y":2,"x":1},"reason":"ok","decision":"approved"}`))
	if err != nil {
		t.Fatalf("hash b: %v", err)
	}
	if a != b {
		t.Fatalf("expected identical hashes, got %s vs %s", a, b)
	}
}

func TestRequestHashDiffersOnContent(t *testing.T) {
	a, err := RequestHash([]byte(`{"decision":"approved"}`))
	if err != nil {
		t.Fatalf("hash a: %v", err)
	}
	b, err := RequestHash([]byte(`{"decision":"rejected"}`))
	if err != nil {
		t.Fatalf("hash b: %v", err)
	}
	if a == b {
		t.Fatal("different bodies must not collide")
	}
}

func TestRequestHashAcceptsStructsAndStrings(t *testing.T) {
	type body struct {
		Decision string `json:"decision"`
		Reason   string `json:"reason"`
	}
	fromStruct, err := RequestHash(body{Decision: "approved", Reason: "ok"})
	if err != nil {
		t.Fatalf("hash struct: %v", err)
	}
	fromString, err := RequestHash(`{"reason":"ok","decision":"approved"}`)
	if err != nil {
		t.Fatalf("hash string: %v", err)
	}
	if fromStruct != fromString {
		t.Fatalf("expected equivalent representations to hash alike, got %s vs %s", fromStruct, fromString)
	}
}

func TestRequestHashEmptyBodyIsStable(t *testing.T) {
	a, err := RequestHash(nil)
	if err != nil {
		t.Fatalf("hash nil: %v", err)
	}
	b, err := RequestHash([]byte{})
	if err != nil {
		t.Fatalf("hash empty: %v", err)
	}
	if a != b {
		t.Fatalf("expected stable empty hash, got %s vs %s", a, b)
	}
}

func TestRequestHashRejectsInvalidJSON(t *testing.T) {
	if _, err := RequestHash([]byte(`{broken`)); err == nil {
		t.Fatal("expected decode error")
	}
}
