package identifier

import (
	"testing"
)

func TestFromSeedDeterministic(t *testing.T) {
	a, err := FromSeed([]byte("127.0.0.1:33445"), 160)
	if err != nil {
		t.Fatal(err)
	}
	b, err := FromSeed([]byte("127.0.0.1:33445"), 160)
	if err != nil {
		t.Fatal(err)
	}
	if !Equal(a, b) {
		t.Fatal("FromSeed is not deterministic")
	}
	if len(a) != 20 {
		t.Fatalf("expected 20 bytes for 160 bits, got %d", len(a))
	}
}

func TestFromSeedRejectsBadBits(t *testing.T) {
	if _, err := FromSeed([]byte("x"), 0); err == nil {
		t.Fatal("expected error for bits=0")
	}
	if _, err := FromSeed([]byte("x"), 7); err == nil {
		t.Fatal("expected error for non-multiple-of-8 bits")
	}
	if _, err := FromSeed([]byte("x"), 1024); err == nil {
		t.Fatal("expected error for bits > 512")
	}
}

func TestDistanceSymmetricAndZero(t *testing.T) {
	a, _ := FromSeed([]byte("a"), 160)
	b, _ := FromSeed([]byte("b"), 160)

	dab, err := Distance(a, b)
	if err != nil {
		t.Fatal(err)
	}
	dba, err := Distance(b, a)
	if err != nil {
		t.Fatal(err)
	}
	if !Equal(dab, dba) {
		t.Fatal("distance(a,b) != distance(b,a)")
	}

	daa, err := Distance(a, a)
	if err != nil {
		t.Fatal(err)
	}
	for _, b := range daa {
		if b != 0 {
			t.Fatal("distance(a,a) is not zero")
		}
	}
}

func TestDistanceTriangleInequalityBitwise(t *testing.T) {
	a, _ := FromSeed([]byte("a"), 160)
	b, _ := FromSeed([]byte("b"), 160)
	c, _ := FromSeed([]byte("c"), 160)

	dac, _ := Distance(a, c)
	dab, _ := Distance(a, b)
	dbc, _ := Distance(b, c)

	for i := range dac {
		xorBound := dab[i] ^ dbc[i]
		if dac[i] > xorBound && (dac[i]&^xorBound) != 0 {
			// Bitwise triangle inequality: every bit set in d(a,c) that is
			// also set beyond the bound set by d(a,b) xor d(b,c) would be
			// a real violation; a straightforward byte > comparison can
			// false-positive across byte boundaries, so only fail when a
			// bit is set in dac that is clear in the xor bound.
			if dac[i]&^xorBound != 0 {
				t.Fatalf("xor triangle inequality violated at byte %d: dac=%08b bound=%08b", i, dac[i], xorBound)
			}
		}
	}
}

func TestBucketIndexSelf(t *testing.T) {
	a, _ := FromSeed([]byte("a"), 160)
	_, ok, err := BucketIndex(a, a)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected no bucket for identical identifiers")
	}
}

func TestBucketIndexRange(t *testing.T) {
	self, _ := FromSeed([]byte("self"), 160)
	for i := 0; i < 50; i++ {
		other, _ := Random(160)
		idx, ok, err := BucketIndex(self, other)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			continue // random collision with self; astronomically unlikely
		}
		if idx < 0 || idx >= 160 {
			t.Fatalf("bucket index %d out of range", idx)
		}
	}
}

func TestRandomInBucketLandsInBucket(t *testing.T) {
	self, _ := FromSeed([]byte("self"), 160)
	for _, want := range []int{0, 1, 50, 159} {
		other, err := RandomInBucket(self, want)
		if err != nil {
			t.Fatal(err)
		}
		got, ok, err := BucketIndex(self, other)
		if err != nil {
			t.Fatal(err)
		}
		if !ok || got != want {
			t.Fatalf("RandomInBucket(%d): got bucket %d (ok=%v)", want, got, ok)
		}
	}
}

func TestLessDistanceOrdering(t *testing.T) {
	target, _ := FromSeed([]byte("target"), 160)
	near, _ := FromSeed([]byte("near"), 160)
	far, _ := Random(160)

	dn, _ := Distance(target, near)
	df, _ := Distance(target, far)

	// Not a behavioral assertion (either order is possible depending on
	// hash outputs) -- just exercise the comparator both ways and check
	// antisymmetry.
	if LessDistance(dn, df) == LessDistance(df, dn) && !Equal(dn, df) {
		t.Fatal("LessDistance is not antisymmetric")
	}
}

func TestHexRoundTrip(t *testing.T) {
	a, _ := FromSeed([]byte("roundtrip"), 160)
	s := a.String()
	if len(s) != 40 {
		t.Fatalf("expected 40 hex chars (B/4) for 160 bits, got %d", len(s))
	}
	b, err := FromHex(s)
	if err != nil {
		t.Fatal(err)
	}
	if !Equal(a, b) {
		t.Fatal("hex round-trip mismatch")
	}
}
