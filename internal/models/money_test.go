package models

import "testing"

func TestCanonicalAmount(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"100.00", "100"},
		{"100.50", "100.5"},
		{"007", "7"},
		{"0.10", "0.1"},
		{"0", "0"},
		{"000.00", "0"},
		{"12.34", "12.34"},
		{"  5.00  ", "5"},
		{"abc", "abc"},
		{"1.2.3", "1.2.3"},
		{"-5", "-5"},
	}

	for _, c := range cases {
		if got := CanonicalAmount(c.in); got != c.want {
			t.Errorf("CanonicalAmount(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestToMinorUnits(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"100.00", 10000},
		{"100.5", 10050},
		{"0.01", 1},
		{"0", 0},
		{"7", 700},
		{"12.34", 1234},
	}

	for _, c := range cases {
		v, err := ToMinorUnits(c.in)
		if err != nil {
			t.Fatalf("ToMinorUnits(%q) returned error: %v", c.in, err)
		}
		if !v.IsInt64() || v.Int64() != c.want {
			t.Errorf("ToMinorUnits(%q) = %s, want %d", c.in, v.String(), c.want)
		}
	}
}

func TestToMinorUnitsRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "abc", "1.234", "-5", "1,000", "1.2.3", "NaN"} {
		if _, err := ToMinorUnits(in); err == nil {
			t.Errorf("ToMinorUnits(%q) should fail", in)
		} else if !IsKind(err, ErrInvalidAmount) {
			t.Errorf("ToMinorUnits(%q) kind = %s, want InvalidAmount", in, KindOf(err))
		}
	}
}

func TestToMinorUnitsExactness(t *testing.T) {
	// 0.1 + 0.2 must equal 0.3 exactly in minor units.
	a, _ := ToMinorUnits("0.1")
	b, _ := ToMinorUnits("0.2")
	c, _ := ToMinorUnits("0.3")
	if a.Int64()+b.Int64() != c.Int64() {
		t.Errorf("0.1 + 0.2 != 0.3 in minor units: %d + %d != %d", a.Int64(), b.Int64(), c.Int64())
	}
}

func TestLinesBalance(t *testing.T) {
	mk := func(side Side, amount string) JournalLine {
		return JournalLine{Side: side, Amount: Money{Amount: amount, Currency: "USD"}}
	}

	balanced, err := LinesBalance([]JournalLine{mk(SideDebit, "100.00"), mk(SideCredit, "100")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !balanced {
		t.Error("100.00 debit vs 100 credit should balance")
	}

	balanced, err = LinesBalance([]JournalLine{mk(SideDebit, "100.00"), mk(SideCredit, "99.99")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if balanced {
		t.Error("100.00 vs 99.99 should not balance")
	}

	// Multi-line split
	balanced, _ = LinesBalance([]JournalLine{
		mk(SideDebit, "50.25"),
		mk(SideDebit, "49.75"),
		mk(SideCredit, "100.00"),
	})
	if !balanced {
		t.Error("50.25 + 49.75 debit vs 100.00 credit should balance")
	}
}
