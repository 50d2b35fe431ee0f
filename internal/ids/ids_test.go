package ids

import (
	"encoding/hex"
	"testing"

	"github.com/oklog/ulid/v2"
)

func TestNewIsSortable(t *testing.T) {
	prev := New()
	for range 200 {
		next := New()
		if next <= prev {
			t.Fatalf("ids not monotonic: %s then %s", prev, next)
		}
		if _, err := ulid.ParseStrict(next); err != nil {
			t.Fatalf("not a ULID: %q: %v", next, err)
		}
		prev = next
	}
}

func TestAccessToken(t *testing.T) {
	a, err := AccessToken()
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	raw, err := hex.DecodeString(a)
	if err != nil || len(raw) != accessTokenBytes {
		t.Fatalf("expected %d hex-encoded bytes, got %q", accessTokenBytes, a)
	}
	b, _ := AccessToken()
	if a == b {
		t.Fatal("tokens must differ")
	}
}
