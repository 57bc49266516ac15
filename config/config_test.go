package config

import "testing"

func validSettings() *Settings {
	return &Settings{
		Symbols:              []string{"R_50"},
		Timeframes:           []int{60, 180},
		BaseStake:            1,
		ExecThreshold:        0.72,
		EMAFast:              9,
		EMASlow:              29,
		DurationUnit:         "t",
		MartingaleEnabled:    true,
		MartingaleMultiplier: 2.1,
		MartingaleHardCap:    50,
	}
}

func TestValidate_Accepts(t *testing.T) {
	if err := validSettings().Validate(); err != nil {
		t.Fatalf("expected valid settings, got %v", err)
	}
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"no symbols", func(s *Settings) { s.Symbols = nil }},
		{"no timeframes", func(s *Settings) { s.Timeframes = nil }},
		{"unsupported timeframe", func(s *Settings) { s.Timeframes = []int{45} }},
		{"zero stake", func(s *Settings) { s.BaseStake = 0 }},
		{"hard cap below stake", func(s *Settings) { s.BaseStake = 100 }},
		{"multiplier too small", func(s *Settings) { s.MartingaleMultiplier = 1 }},
		{"ema fast >= slow", func(s *Settings) { s.EMAFast = 29 }},
		{"threshold out of range", func(s *Settings) { s.ExecThreshold = 1.5 }},
		{"bad duration unit", func(s *Settings) { s.DurationUnit = "d" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := validSettings()
			tc.mutate(s)
			if err := s.Validate(); err == nil {
				t.Errorf("expected validation error")
			}
		})
	}
}

func TestCell_UpdateValidatesBeforePublishing(t *testing.T) {
	c := NewCell(validSettings())

	err := c.Update(func(s Settings) Settings {
		s.BaseStake = -5
		return s
	})
	if err == nil {
		t.Fatal("expected rejection of invalid update")
	}
	if c.Get().BaseStake != 1 {
		t.Errorf("rejected update must not be visible, stake = %v", c.Get().BaseStake)
	}

	err = c.Update(func(s Settings) Settings {
		s.BaseStake = 2
		return s
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.Get().BaseStake != 2 {
		t.Errorf("accepted update not visible, stake = %v", c.Get().BaseStake)
	}
}

func TestCell_SnapshotIsolation(t *testing.T) {
	c := NewCell(validSettings())
	before := c.Get()

	if err := c.Update(func(s Settings) Settings {
		s.Symbols = append(s.Symbols, "R_100")
		return s
	}); err != nil {
		t.Fatal(err)
	}

	if len(before.Symbols) != 1 {
		t.Errorf("old snapshot mutated: %v", before.Symbols)
	}
	if len(c.Get().Symbols) != 2 {
		t.Errorf("new snapshot missing symbol: %v", c.Get().Symbols)
	}
}

func TestParseInts_SkipsInvalid(t *testing.T) {
	got := parseInts("60, x, 180, -5, 300")
	want := []int{60, 180, 300}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got %v, want %v", got, want)
			break
		}
	}
}
