package engine

import (
	"fmt"
	"time"
)

// Thresholds holds the fixed decision constants. The zero value is filled
// with the reference values by SetDefaults.
type Thresholds struct {
	SampleSize            int `yaml:"sample_size" json:"sample_size"`
	IndividualBanScore    int `yaml:"individual_ban_score" json:"individual_ban_score"`
	ClusterBanBadbots     int `yaml:"cluster_ban_badbots" json:"cluster_ban_badbots"`
	ClusterBanFlaggedbots int `yaml:"cluster_ban_flaggedbots" json:"cluster_ban_flaggedbots"`
	FlagLowerBound        int `yaml:"flag_lower_bound" json:"flag_lower_bound"`
	RecencyDays           int `yaml:"recency_days" json:"recency_days"`
	SuperuserDivisor      int `yaml:"superuser_divisor" json:"superuser_divisor"`
	SuperuserFloor        int `yaml:"superuser_floor" json:"superuser_floor"`
}

// DefaultThresholds returns the reference decision constants.
func DefaultThresholds() Thresholds {
	var t Thresholds
	t.SetDefaults()
	return t
}

func (t *Thresholds) SetDefaults() {
	if t.SampleSize == 0 {
		t.SampleSize = 9
	}
	if t.IndividualBanScore == 0 {
		t.IndividualBanScore = 25
	}
	if t.ClusterBanBadbots == 0 {
		t.ClusterBanBadbots = 3
	}
	if t.ClusterBanFlaggedbots == 0 {
		t.ClusterBanFlaggedbots = 7
	}
	if t.FlagLowerBound == 0 {
		t.FlagLowerBound = 3
	}
	if t.RecencyDays == 0 {
		t.RecencyDays = 30
	}
	if t.SuperuserDivisor == 0 {
		t.SuperuserDivisor = 2000
	}
	if t.SuperuserFloor == 0 {
		t.SuperuserFloor = 100
	}
}

func (t Thresholds) Validate() error {
	switch {
	case t.SampleSize < 1:
		return fmt.Errorf("sample_size must be at least 1")
	case t.IndividualBanScore < 1 || t.IndividualBanScore > 100:
		return fmt.Errorf("individual_ban_score must be within 1..100")
	case t.ClusterBanBadbots < 1:
		return fmt.Errorf("cluster_ban_badbots must be at least 1")
	case t.FlagLowerBound < 1:
		return fmt.Errorf("flag_lower_bound must be at least 1")
	case t.ClusterBanFlaggedbots <= t.FlagLowerBound:
		return fmt.Errorf("cluster_ban_flaggedbots must exceed flag_lower_bound")
	case t.RecencyDays < 1:
		return fmt.Errorf("recency_days must be at least 1")
	case t.SuperuserDivisor < 1:
		return fmt.Errorf("superuser_divisor must be at least 1")
	}
	return nil
}

// RecencyWindow is how recent a report must be to count as a bad bot.
func (t Thresholds) RecencyWindow() time.Duration {
	return time.Duration(t.RecencyDays) * 24 * time.Hour
}
