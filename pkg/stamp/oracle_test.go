package stamp

import (
	"errors"
	"testing"

	"github.com/incbuild/incc/pkg/vfs"
)

func TestStampEquivalence(t *testing.T) {
	a := Hash([]byte("hello"))
	b := Hash([]byte("hello"))
	if !Equiv(a, b) {
		t.Errorf("identical content should produce equivalent stamps")
	}

	c := Hash([]byte("other"))
	if Equiv(a, c) {
		t.Errorf("different content should not be equivalent")
	}

	// A hash stamp never matches a timestamp stamp, even with equal payload.
	h := Stamp{Kind: KindHash, Value: 42}
	m := Stamp{Kind: KindLastModified, Value: 42}
	if Equiv(h, m) {
		t.Errorf("hash and lastModified stamps must not be equivalent")
	}

	if !Equiv(Empty, Empty) {
		t.Errorf("empty stamps are equivalent to each other")
	}
}

func TestOracleSourceMemoization(t *testing.T) {
	conv := vfs.NewMapConverter()
	conv.Put("a.src", []byte("content"))
	oracle := NewOracle(conv)

	first, err := oracle.Source("a.src")
	if err != nil {
		t.Fatalf("Source() unexpected error: %v", err)
	}

	// The oracle must not observe writes made after the first stamp.
	conv.Put("a.src", []byte("changed"))
	second, err := oracle.Source("a.src")
	if err != nil {
		t.Fatalf("Source() unexpected error: %v", err)
	}
	if !Equiv(first, second) {
		t.Errorf("memoized stamp changed within one run: %v vs %v", first, second)
	}

	fresh := NewOracle(conv)
	third, err := fresh.Source("a.src")
	if err != nil {
		t.Fatalf("Source() unexpected error: %v", err)
	}
	if Equiv(first, third) {
		t.Errorf("a fresh oracle should observe the new content")
	}
}

func TestOracleUnavailableSource(t *testing.T) {
	conv := vfs.NewMapConverter()
	oracle := NewOracle(conv)

	_, err := oracle.Source("missing.src")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestOracleMissingProductIsEmpty(t *testing.T) {
	conv := vfs.NewMapConverter()
	oracle := NewOracle(conv)

	if s := oracle.Product("out/Missing.class"); !s.IsEmpty() {
		t.Errorf("missing product should stamp as empty, got %v", s)
	}

	// Invalidate lets the oracle observe a product written later in the run.
	conv.Put("out/Missing.class", []byte("bytecode"))
	if s := oracle.Product("out/Missing.class"); !s.IsEmpty() {
		t.Errorf("stamp should still be memoized as empty, got %v", s)
	}
	oracle.Invalidate("out/Missing.class")
	if s := oracle.Product("out/Missing.class"); s.IsEmpty() {
		t.Errorf("after Invalidate the new product should be observed")
	}
}

func TestOracleMissingLibraryIsEmpty(t *testing.T) {
	conv := vfs.NewMapConverter()
	oracle := NewOracle(conv)

	if s := oracle.Library("lib/gone.jar"); !s.IsEmpty() {
		t.Errorf("unresolvable library should stamp as empty (removed), got %v", s)
	}
}
