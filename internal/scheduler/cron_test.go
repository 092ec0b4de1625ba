package scheduler

import (
	"testing"
	"time"
)

func TestValidateCronExpr(t *testing.T) {
	valid := []string{"* * * * *", "0 9 * * 1-5", "*/15 * * * *", "@hourly", "@every 30s"}
	for _, expr := range valid {
		if err := ValidateCronExpr(expr); err != nil {
			t.Errorf("ValidateCronExpr(%q) = %v, want nil", expr, err)
		}
	}

	invalid := []string{"", "* * * *", "60 * * * *", "0 0 * * * *", "@sometimes"}
	for _, expr := range invalid {
		if err := ValidateCronExpr(expr); err == nil {
			t.Errorf("ValidateCronExpr(%q) = nil, want error", expr)
		}
	}
}

func TestNextFires(t *testing.T) {
	from := time.Date(2026, 3, 10, 8, 30, 0, 0, time.UTC)

	got, err := NextFires("0 9 * * *", "", from, 2)
	if err != nil {
		t.Fatal(err)
	}
	want := []time.Time{
		time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC),
	}
	if len(got) != 2 || !got[0].Equal(want[0]) || !got[1].Equal(want[1]) {
		t.Errorf("NextFires = %v, want %v", got, want)
	}
}

func TestNextFires_Timezone(t *testing.T) {
	from := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	got, err := NextFires("0 9 * * *", "Europe/Moscow", from, 1)
	if err != nil {
		t.Fatal(err)
	}
	// 09:00 MSK = 06:00 UTC.
	want := time.Date(2026, 1, 15, 6, 0, 0, 0, time.UTC)
	if !got[0].Equal(want) {
		t.Errorf("NextFires = %v, want %v", got[0], want)
	}

	if _, err := NextFires("0 9 * * *", "Mars/Olympus", from, 1); err == nil {
		t.Error("expected error for unknown timezone")
	}
}
