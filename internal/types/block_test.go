package types

import (
	"testing"
	"time"
)

func TestPrefixOf(t *testing.T) {
	tests := []struct {
		addr   string
		prefix string
		ok     bool
	}{
		{"10.0.0.1", "10.0.0", true},
		{"192.168.17.254", "192.168.17", true},
		{"::ffff:10.1.2.3", "10.1.2", true},
		{"2001:db8:1:2::1", "2001:0db8:0001", true},
		{"not-an-ip", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := PrefixOf(tt.addr)
		if ok != tt.ok || got != tt.prefix {
			t.Errorf("PrefixOf(%q) = %q, %v; want %q, %v", tt.addr, got, ok, tt.prefix, tt.ok)
		}
	}
}

func TestNotation(t *testing.T) {
	if got := Notation("10.0.0"); got != "10.0.0.0/24" {
		t.Errorf("unexpected IPv4 notation %s", got)
	}
	if got := Notation("2001:0db8:0001"); got != "2001:0db8:0001::/48" {
		t.Errorf("unexpected IPv6 notation %s", got)
	}
	if !IsNotation("10.0.0.0/24") || IsNotation("10.0.0.1") {
		t.Error("IsNotation misclassified target")
	}
}

func TestSortAddresses(t *testing.T) {
	addrs := []string{"10.0.0.10", "bogus", "10.0.0.2", "10.0.0.1"}
	SortAddresses(addrs)
	want := []string{"10.0.0.1", "10.0.0.2", "10.0.0.10", "bogus"}
	for i := range want {
		if addrs[i] != want[i] {
			t.Fatalf("got %v, want %v", addrs, want)
		}
	}
}

func TestReportedWithin(t *testing.T) {
	now := time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)
	window := 30 * 24 * time.Hour
	recent := now.Add(-window + time.Second)
	old := now.Add(-window)

	if !(ReputationResult{LastReportedAt: &recent}).ReportedWithin(now, window) {
		t.Error("expected report just inside the window to count")
	}
	if (ReputationResult{LastReportedAt: &old}).ReportedWithin(now, window) {
		t.Error("expected report exactly at the window edge to be excluded")
	}
	if (ReputationResult{}).ReportedWithin(now, window) {
		t.Error("expected missing timestamp to be excluded")
	}
}

func TestParseClass(t *testing.T) {
	for _, c := range Classes {
		got, err := ParseClass(c.String())
		if err != nil || got != c {
			t.Errorf("ParseClass(%s) = %v, %v", c, got, err)
		}
	}
	if _, err := ParseClass("maybe"); err == nil {
		t.Error("expected error for unknown class")
	}
}
