package money

import "testing"

func TestMicroArithmetic(t *testing.T) {
	a := Micro(1_000_000)
	b := Micro(250_000)
	if got := a.Add(b); got != 1_250_000 {
		t.Fatalf("Add = %d, want 1250000", got)
	}
	if got := a.Sub(b); got != 750_000 {
		t.Fatalf("Sub = %d, want 750000", got)
	}
}

func TestMulQtyOrderOfOperations(t *testing.T) {
	// price 100_000 Micro, qty 1.00000000 at exponent 8
	price := Micro(100_000)
	qty := NewQty(100_000_000, 8)
	got := MulQty(price, qty)
	if got != 100_000 {
		t.Fatalf("MulQty = %d, want 100000", got)
	}
}

func TestMulQtyFractional(t *testing.T) {
	// price 3_500_000 Micro (3.5 MNT-equivalent scaled), qty 0.5 at exponent 8
	price := Micro(3_500_000)
	qty := NewQty(50_000_000, 8)
	got := MulQty(price, qty)
	if got != 1_750_000 {
		t.Fatalf("MulQty = %d, want 1750000", got)
	}
}

func TestMulRate(t *testing.T) {
	notional := Micro(1_000_000)
	margin := MulRate(notional, 100_000, RateScale) // 0.10
	if margin != 100_000 {
		t.Fatalf("MulRate = %d, want 100000", margin)
	}
}

func TestQtyMulFracProportionalRelease(t *testing.T) {
	remaining := NewQty(400_000_000, 8) // 4.0
	closeQty := NewQty(100_000_000, 8)  // 1.0 closed
	// release = remaining_margin * closeQty / oldSize, modeled here via MulFrac
	released := remaining.MulFrac(closeQty.raw, 400_000_000)
	if released.raw != 100_000_000 {
		t.Fatalf("released = %d, want 100000000", released.raw)
	}
}

func TestQtySignAndAbs(t *testing.T) {
	q := NewQty(-50, 2)
	if q.Sign() != -1 {
		t.Fatalf("Sign = %d, want -1", q.Sign())
	}
	if AbsQty(q).raw != 50 {
		t.Fatalf("AbsQty raw = %d, want 50", AbsQty(q).raw)
	}
}

func TestFromMNTRoundTrip(t *testing.T) {
	m := FromMNT(12.5)
	if m != 12_500_000 {
		t.Fatalf("FromMNT = %d, want 12500000", m)
	}
	if mnt := m.ToMNT(); mnt != 12.5 {
		t.Fatalf("ToMNT = %v, want 12.5", mnt)
	}
}
