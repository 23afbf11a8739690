package cache

import (
	"testing"
	"time"
)

func TestParseCacheControlDirectives(t *testing.T) {
	d := ParseCacheControl("public, max-age=300, s-maxage=600")
	if d.MaxAge == nil || *d.MaxAge != 300 {
		t.Fatalf("max-age not parsed: %#v", d)
	}
	if d.SMaxAge == nil || *d.SMaxAge != 600 {
		t.Fatalf("s-maxage not parsed: %#v", d)
	}
	if d.NoCache || d.NoStore || d.Private {
		t.Fatalf("unexpected flags: %#v", d)
	}
}

func TestParseCacheControlFlags(t *testing.T) {
	d := ParseCacheControl("no-cache, no-store, private")
	if !d.NoCache || !d.NoStore || !d.Private {
		t.Fatalf("flags not parsed: %#v", d)
	}
}

func TestParseCacheControlIgnoresGarbage(t *testing.T) {
	d := ParseCacheControl("max-age=abc, s-maxage=-5, immutable")
	if d.MaxAge != nil || d.SMaxAge != nil {
		t.Fatalf("invalid values should be dropped: %#v", d)
	}
}

func TestDirectiveTTLPrecedence(t *testing.T) {
	maxAge := 300
	sMaxAge := 600

	ttl := (Directive{MaxAge: &maxAge, SMaxAge: &sMaxAge}).TTL()
	if ttl == nil || *ttl != 600*time.Second {
		t.Fatalf("s-maxage should win: %v", ttl)
	}

	ttl = (Directive{MaxAge: &maxAge}).TTL()
	if ttl == nil || *ttl != 300*time.Second {
		t.Fatalf("max-age fallback: %v", ttl)
	}

	ttl = (Directive{MaxAge: &maxAge, NoStore: true}).TTL()
	if ttl == nil || *ttl != 0 {
		t.Fatalf("no-store should force zero: %v", ttl)
	}

	if ttl := (Directive{}).TTL(); ttl != nil {
		t.Fatalf("empty directive should yield nil: %v", ttl)
	}
}

func TestEffectiveTTL(t *testing.T) {
	headers := map[string]string{"Cache-Control": "max-age=120"}

	if got := EffectiveTTL(time.Hour, 0, true, headers); got != 2*time.Minute {
		t.Fatalf("directive should win when followed: %v", got)
	}
	if got := EffectiveTTL(time.Hour, 0, false, headers); got != time.Hour {
		t.Fatalf("category TTL should win when not following: %v", got)
	}
	if got := EffectiveTTL(time.Hour, 10*time.Minute, true, headers); got != 2*time.Minute {
		t.Fatalf("ceiling should not raise directive TTL: %v", got)
	}
	if got := EffectiveTTL(time.Hour, 10*time.Minute, false, nil); got != 10*time.Minute {
		t.Fatalf("server ceiling should cap category TTL: %v", got)
	}
	if got := EffectiveTTL(time.Hour, 0, true, map[string]string{"cache-control": "no-store"}); got != 0 {
		t.Fatalf("no-store should disable caching: %v", got)
	}
}

func TestEffectiveTTLHeaderCaseInsensitive(t *testing.T) {
	headers := map[string]string{"CACHE-CONTROL": "max-age=60"}
	if got := EffectiveTTL(time.Hour, 0, true, headers); got != time.Minute {
		t.Fatalf("header lookup should ignore case: %v", got)
	}
}
