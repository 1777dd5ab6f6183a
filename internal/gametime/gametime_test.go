package gametime

import "testing"

func TestCompare_ThreeRegions(t *testing.T) {
	tests := []struct {
		name string
		a, b Time
		want Order
	}{
		{"equal", 100, 100, Same},
		{"middle before", 50000, 60000, Before},
		{"middle after", 60000, 50000, After},
		{"just wrapped is after high", 5, MaxNetTime - 5, After},
		{"high is before just wrapped", MaxNetTime - 5, 5, Before},
		{"low band against low band", 10, 20, Before},
		{"high band against high band", MaxNetTime - 1, MaxNetTime - 2, After},
		{"min critical boundary", MinCriticalNetTime, MaxNetTime - 1, Before},
		{"max critical boundary", MaxCriticalNetTime, 0, After},
		{"just past max critical vs zero", MaxCriticalNetTime + 1, 0, Before},
		{"just below min critical vs top", MinCriticalNetTime - 1, MaxNetTime - 1, After},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Compare(tt.a, tt.b); got != tt.want {
				t.Fatalf("Compare(%d, %d) = %s, want %s", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestCompare_Antisymmetric(t *testing.T) {
	samples := []Time{0, 1, MinCriticalNetTime - 1, MinCriticalNetTime, 100000,
		MaxCriticalNetTime, MaxCriticalNetTime + 1, MaxNetTime - 1}
	for _, a := range samples {
		for _, b := range samples {
			// Pairs further apart than the critical band are outside the contract.
			d := Distance(a, b)
			if d > CriticalBand || d < -CriticalBand {
				continue
			}
			if Compare(a, b) != -Compare(b, a) {
				t.Fatalf("Compare(%d,%d)=%s but Compare(%d,%d)=%s", a, b, Compare(a, b), b, a, Compare(b, a))
			}
		}
	}
}

func TestAdd_Wraps(t *testing.T) {
	if got := Add(MaxNetTime-1, 1); got != 0 {
		t.Fatalf("Add wrap = %d, want 0", got)
	}
	if got := Add(0, -1); got != MaxNetTime-1 {
		t.Fatalf("Add negative = %d, want %d", got, MaxNetTime-1)
	}
	if got := Add(10, 5); got != 15 {
		t.Fatalf("Add = %d, want 15", got)
	}
}

func TestDistance_AcrossWrap(t *testing.T) {
	if d := Distance(3, MaxNetTime-2); d != 5 {
		t.Fatalf("Distance = %d, want 5", d)
	}
	if d := Distance(MaxNetTime-2, 3); d != -5 {
		t.Fatalf("Distance = %d, want -5", d)
	}
}

func TestMask(t *testing.T) {
	if got := Mask(0xffffffff); got != MaxNetTime-1 {
		t.Fatalf("Mask = %d", got)
	}
}
