package sha256

import "testing"

func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("https://a.example/x"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	again, err := h.Hash([]byte("https://a.example/x"))
	if err != nil {
		t.Fatalf("Hash() repeat error = %v", err)
	}
	if again != got {
		t.Fatalf("expected deterministic hash, got %s vs %s", got, again)
	}
	if len(got) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(got))
	}
	other := h.HashString("https://a.example/y")
	if other == got {
		t.Fatal("expected distinct urls to produce distinct digests")
	}
}

func TestHasherKnownVector(t *testing.T) {
	t.Parallel()

	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got := New().HashString("hello world"); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}
