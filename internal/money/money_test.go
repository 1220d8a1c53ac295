package money

import "testing"

func TestMulBps(t *testing.T) {
	cases := []struct {
		amount string
		bps    int64
		want   string
	}{
		{"1000", 50, "5"},
		{"1000", 0, "0"},
		{"999", 50, "4"}, // floor(4.995)
		{"200", 10000, "200"},
	}
	for _, c := range cases {
		a, err := FromString(c.amount)
		if err != nil {
			t.Fatalf("FromString(%q): %v", c.amount, err)
		}
		got := a.MulBps(c.bps).String()
		if got != c.want {
			t.Errorf("MulBps(%s, %d) = %s, want %s", c.amount, c.bps, got, c.want)
		}
	}
}

func TestCeilDiv10000Over(t *testing.T) {
	cases := []struct {
		bps  int64
		want string
	}{
		{50, "200"},    // 10000/50 = 200 exactly
		{1, "10000"},   // 10000/1
		{3, "3334"},    // ceil(10000/3) = 3333.33.. -> 3334
		{10000, "1"},   // ceil(1) = 1
	}
	for _, c := range cases {
		got := CeilDiv10000Over(c.bps).String()
		if got != c.want {
			t.Errorf("CeilDiv10000Over(%d) = %s, want %s", c.bps, got, c.want)
		}
	}
}

func TestCmpByValueNotText(t *testing.T) {
	// "005" and "5" are textually different but must compare equal by value.
	a, _ := FromString("005")
	b, _ := FromString("5")
	if a.Cmp(b) != 0 {
		t.Errorf("expected 005 == 5 by value, got cmp=%d", a.Cmp(b))
	}
}
