package resources

import "testing"

func TestGuardDisabledWhenZero(t *testing.T) {
	g := NewGuard(0)
	ok, err := g.AllowAccept()
	if err != nil || !ok {
		t.Fatalf("AllowAccept() = %v, %v, want true, nil", ok, err)
	}
}

func TestGuardAllowsUnderGenerousLimit(t *testing.T) {
	g := NewGuard(1 << 40) // 1TB, far above any test process's RSS
	ok, err := g.AllowAccept()
	if err != nil || !ok {
		t.Fatalf("AllowAccept() = %v, %v, want true, nil", ok, err)
	}
}

func TestGuardRejectsUnderTinyLimit(t *testing.T) {
	g := NewGuard(1) // 1 byte: no process fits
	ok, err := g.AllowAccept()
	if err != nil || ok {
		t.Fatalf("AllowAccept() = %v, %v, want false, nil", ok, err)
	}
}

func TestHostMemoryPercentInRange(t *testing.T) {
	pct, err := HostMemoryPercent()
	if err != nil {
		t.Fatal(err)
	}
	if pct < 0 || pct > 100 {
		t.Fatalf("HostMemoryPercent() = %v, want [0,100]", pct)
	}
}
