package tensor

import (
	"testing"

	"github.com/x448/float16"
)

func TestSliceAndStackRoundTrip(t *testing.T) {
	src, err := FromFloat32s([]float32{1, 2, 3, 4, 5, 6}, 3, 2)
	if err != nil {
		t.Fatalf("FromFloat32s failed: %v", err)
	}

	slices := make([]*Tensor, 3)
	for i := range slices {
		s, err := src.Slice(i)
		if err != nil {
			t.Fatalf("Slice(%d) failed: %v", i, err)
		}
		if got := s.Dims(); len(got) != 1 || got[0] != 2 {
			t.Fatalf("Slice(%d) has dims %v, expected [2]", i, got)
		}
		slices[i] = s
	}

	back, err := Stack(slices)
	if err != nil {
		t.Fatalf("Stack failed: %v", err)
	}
	if !back.Equal(src) {
		t.Fatalf("slice+stack did not round-trip: %v vs %v", back, src)
	}
}

func TestSliceToScalar(t *testing.T) {
	src, err := FromInt64s([]int64{7, 8, 9})
	if err != nil {
		t.Fatalf("FromInt64s failed: %v", err)
	}
	s, err := src.Slice(1)
	if err != nil {
		t.Fatalf("Slice failed: %v", err)
	}
	if s.Rank() != 0 {
		t.Fatalf("expected scalar, got rank %d", s.Rank())
	}
	v, err := s.ScalarInt64Value()
	if err != nil {
		t.Fatalf("ScalarInt64Value failed: %v", err)
	}
	if v != 8 {
		t.Fatalf("expected 8, got %d", v)
	}
}

func TestRepeatScalar(t *testing.T) {
	r, err := ScalarFloat32(1.5).Repeat(4)
	if err != nil {
		t.Fatalf("Repeat failed: %v", err)
	}
	vals, err := r.Float32s()
	if err != nil {
		t.Fatalf("Float32s failed: %v", err)
	}
	if len(vals) != 4 {
		t.Fatalf("expected 4 values, got %d", len(vals))
	}
	for i, v := range vals {
		if v != 1.5 {
			t.Fatalf("value %d is %v, expected 1.5", i, v)
		}
	}
}

func TestRepeatLeadingOne(t *testing.T) {
	src, err := FromFloat32s([]float32{1, 2}, 1, 2)
	if err != nil {
		t.Fatalf("FromFloat32s failed: %v", err)
	}
	r, err := src.Repeat(3)
	if err != nil {
		t.Fatalf("Repeat failed: %v", err)
	}
	if got := r.Dims(); got[0] != 3 || got[1] != 2 {
		t.Fatalf("unexpected dims %v", got)
	}
	vals, _ := r.Float32s()
	want := []float32{1, 2, 1, 2, 1, 2}
	for i := range want {
		if vals[i] != want[i] {
			t.Fatalf("value %d is %v, expected %v", i, vals[i], want[i])
		}
	}
}

func TestRepeatRejectsWideLeading(t *testing.T) {
	src, err := FromFloat32s([]float32{1, 2, 3})
	if err != nil {
		t.Fatalf("FromFloat32s failed: %v", err)
	}
	if _, err := src.Repeat(5); err == nil {
		t.Fatalf("expected error repeating a leading dimension of 3")
	}
}

func TestFloat16Widening(t *testing.T) {
	vals := []float16.Float16{
		float16.Fromfloat32(0.5),
		float16.Fromfloat32(-2),
	}
	src, err := FromFloat16s(vals)
	if err != nil {
		t.Fatalf("FromFloat16s failed: %v", err)
	}
	wide, err := src.Float32s()
	if err != nil {
		t.Fatalf("Float32s failed: %v", err)
	}
	if wide[0] != 0.5 || wide[1] != -2 {
		t.Fatalf("unexpected widened values %v", wide)
	}
}

func TestStringTensor(t *testing.T) {
	src, err := NewStrings([]int{2}, []string{"a", "b"})
	if err != nil {
		t.Fatalf("NewStrings failed: %v", err)
	}
	s, err := src.Slice(1)
	if err != nil {
		t.Fatalf("Slice failed: %v", err)
	}
	got, err := s.Strings()
	if err != nil {
		t.Fatalf("Strings failed: %v", err)
	}
	if len(got) != 1 || got[0] != "b" {
		t.Fatalf("unexpected strings %v", got)
	}
}

func TestToGomlx(t *testing.T) {
	src, err := FromFloat32s([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	if err != nil {
		t.Fatalf("FromFloat32s failed: %v", err)
	}
	g, err := src.ToGomlx()
	if err != nil {
		t.Fatalf("ToGomlx failed: %v", err)
	}
	if g == nil {
		t.Fatalf("ToGomlx returned nil tensor")
	}

	scalar := ScalarInt64(42)
	g, err = scalar.ToGomlx()
	if err != nil {
		t.Fatalf("ToGomlx on scalar failed: %v", err)
	}
	if g == nil {
		t.Fatalf("ToGomlx returned nil tensor for scalar")
	}

	if _, err := ScalarString("x").ToGomlx(); err == nil {
		t.Fatalf("expected error converting a string tensor")
	}
}
