package circuit

import "testing"

func TestSumCount(t *testing.T) {
	out := SumCount{}.Evaluate([8]uint8{10, 20, 30}, 3)
	if out.Sum != 60 || out.Count != 3 {
		t.Fatalf("expected [60 3], got [%d %d]", out.Sum, out.Count)
	}
	if got := out.Bytes(); got[0] != 60 || got[1] != 3 || got[2] != 0 {
		t.Fatalf("unexpected packing %v", got)
	}
}

func TestSumCountWraps(t *testing.T) {
	out := SumCount{}.Evaluate([8]uint8{255, 255, 255, 255, 255, 255, 255, 255}, 8)
	if out.Sum != 248 {
		t.Fatalf("expected wrapped sum 248, got %d", out.Sum)
	}
}

func TestFuncCircuit(t *testing.T) {
	c := Func{ID: "max", Fn: func(slots [8]uint8, count uint8) Output {
		var m uint8
		for _, v := range slots {
			if v > m {
				m = v
			}
		}
		return Output{Sum: m, Count: count}
	}}
	if c.Name() != "max" {
		t.Fatalf("unexpected name %q", c.Name())
	}
	if out := c.Evaluate([8]uint8{3, 9, 4}, 3); out.Sum != 9 {
		t.Fatalf("expected 9, got %d", out.Sum)
	}
}
