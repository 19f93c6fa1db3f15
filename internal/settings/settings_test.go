package settings

import (
	"errors"
	"testing"
)

func TestDefaults(t *testing.T) {
	s := Defaults()
	if !s.AutoslowEnabled || !s.ModerationEnabled || s.AntiraidEnabled {
		t.Fatalf("unexpected flags %+v", s)
	}
	if s.CheckFrequencySeconds != 30 || s.SpamWindowSeconds != 5 || s.SpamThreshold != 5 {
		t.Fatalf("unexpected spam/frequency defaults %+v", s)
	}
	if s.JoinThreshold != 5 || s.JoinWindowSeconds != 30 || s.MinAccountAgeDays != 7 {
		t.Fatalf("unexpected raid defaults %+v", s)
	}
	if s.CapsThreshold != 0.7 {
		t.Fatalf("expected caps threshold 0.7, got %v", s.CapsThreshold)
	}
	if len(s.BadWords) != 3 || len(s.BannedLinks) != 2 || s.BlacklistedChannels == nil {
		t.Fatalf("unexpected lists %+v", s)
	}
}

func TestDelayForPicksHighestReachedThreshold(t *testing.T) {
	configs := TimeConfigs{0: 0, 10: 5, 20: 15, 50: 30}
	cases := map[int]int{0: 0, 5: 0, 10: 5, 19: 5, 20: 15, 25: 15, 49: 15, 50: 30, 500: 30}
	for count, want := range cases {
		if got := configs.DelayFor(count); got != want {
			t.Fatalf("count %d: expected %d, got %d", count, want, got)
		}
	}
	if got := (TimeConfigs{10: 5}).DelayFor(3); got != 0 {
		t.Fatalf("expected 0 below every threshold, got %d", got)
	}
}

func TestFromRecordNilReturnsDefaults(t *testing.T) {
	got, errs := FromRecord(nil, Defaults())
	if len(errs) != 0 {
		t.Fatalf("unexpected errors %v", errs)
	}
	if got.CheckFrequencySeconds != 30 || len(got.TimeConfigs) != 4 {
		t.Fatalf("expected defaults, got %+v", got)
	}
}

func TestFromRecordFallsBackPerField(t *testing.T) {
	negative := -3
	window := 12
	caps := 1.5
	zeroAge := 0
	disabled := false
	rec := &Record{
		AutoslowEnabled:       &disabled,
		CheckFrequencySeconds: &negative,
		SpamWindowSeconds:     &window,
		CapsThreshold:         &caps,
		MinAccountAgeDays:     &zeroAge,
		TimeConfigs:           `{"abc": 3}`,
		BadWords:              `["Foo", "BAR"]`,
		BannedLinks:           `not json`,
		BlacklistedChannels:   `[123456789012345678, "42"]`,
	}

	got, errs := FromRecord(rec, Defaults())
	if len(errs) != 4 {
		t.Fatalf("expected 4 field errors, got %d: %v", len(errs), errs)
	}
	fields := map[string]bool{}
	for _, err := range errs {
		fields[err.Field] = true
		var fieldErr FieldError
		if !errors.As(err, &fieldErr) {
			t.Fatalf("expected FieldError")
		}
	}
	for _, field := range []string{"check_frequency", "caps_threshold", "time_configs", "banned_links"} {
		if !fields[field] {
			t.Fatalf("expected error for %s, got %v", field, errs)
		}
	}

	if got.AutoslowEnabled {
		t.Fatalf("expected autoslow disabled")
	}
	if got.CheckFrequencySeconds != 30 {
		t.Fatalf("expected default frequency, got %d", got.CheckFrequencySeconds)
	}
	if got.SpamWindowSeconds != 12 {
		t.Fatalf("expected window 12, got %d", got.SpamWindowSeconds)
	}
	if got.CapsThreshold != 0.7 {
		t.Fatalf("expected default caps, got %v", got.CapsThreshold)
	}
	if got.MinAccountAgeDays != 0 {
		t.Fatalf("expected account age 0 to be kept, got %d", got.MinAccountAgeDays)
	}
	if got.TimeConfigs.DelayFor(25) != 15 {
		t.Fatalf("expected default time configs")
	}
	if len(got.BadWords) != 2 || got.BadWords[0] != "foo" || got.BadWords[1] != "bar" {
		t.Fatalf("expected lower-cased words, got %v", got.BadWords)
	}
	if len(got.BannedLinks) != 2 {
		t.Fatalf("expected default links, got %v", got.BannedLinks)
	}
	if len(got.BlacklistedChannels) != 2 || got.BlacklistedChannels[0] != "123456789012345678" {
		t.Fatalf("expected numeric channel id kept exactly, got %v", got.BlacklistedChannels)
	}
}

func TestRecordRoundTripKeepsTimeConfigs(t *testing.T) {
	s := Defaults()
	s.TimeConfigs = TimeConfigs{100: 60, 3: 2}
	s.LogChannelID = "c1"
	rec := ToRecord(s)

	got, errs := FromRecord(&rec, Defaults())
	if len(errs) != 0 {
		t.Fatalf("unexpected errors %v", errs)
	}
	if got.TimeConfigs.DelayFor(150) != 60 || got.TimeConfigs.DelayFor(4) != 2 || len(got.TimeConfigs) != 2 {
		t.Fatalf("unexpected configs %v", got.TimeConfigs)
	}
	if got.LogChannelID != "c1" {
		t.Fatalf("expected log channel c1, got %q", got.LogChannelID)
	}
}

func TestParseTimeConfigs(t *testing.T) {
	configs, err := ParseTimeConfigs("50:30, 20:15,0:0")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if configs.String() != "50:30,20:15,0:0" {
		t.Fatalf("unexpected configs %s", configs.String())
	}
	for _, input := range []string{"", "50", "a:1", "10:-1"} {
		if _, err := ParseTimeConfigs(input); err == nil {
			t.Fatalf("expected error for %q", input)
		}
	}
}

func TestWordListHelpers(t *testing.T) {
	list, added := AddWord(nil, "  Spam ")
	if !added || list[0] != "spam" {
		t.Fatalf("expected spam added, got %v", list)
	}
	if _, added := AddWord(list, "SPAM"); added {
		t.Fatalf("expected duplicate to be ignored")
	}
	list, removed := RemoveWord(list, "Spam")
	if !removed || len(list) != 0 {
		t.Fatalf("expected removal, got %v", list)
	}
}
