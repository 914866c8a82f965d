package audit

import (
	"time"

	"github.com/google/uuid"
)

// Tier classifies a record by storage cost and access latency.
type Tier string

// Storage tiers, ordered by age.
const (
	TierHot     Tier = "HOT"
	TierWarm    Tier = "WARM"
	TierCold    Tier = "COLD"
	TierArchive Tier = "ARCHIVE"
)

// RiskClass groups actions sharing lifecycle thresholds.
type RiskClass string

// Risk classes.
const (
	RiskHigh     RiskClass = "high"
	RiskElevated RiskClass = "elevated"
	RiskStandard RiskClass = "standard"
)

// RiskClassOf maps an action to its lifecycle risk class: high-risk actions,
// then authentication/permission-management, then everything else.
func RiskClassOf(action Action) RiskClass {
	switch {
	case action.HighRisk():
		return RiskHigh
	case action.Authentication(), action.PermissionManagement():
		return RiskElevated
	default:
		return RiskStandard
	}
}

// tierThresholds are day boundaries for one risk class. The invariant
// retentionDays >= coldDays >= warmDays >= hotDays holds for every class;
// plan precedence (delete > compress > archive) relies on it.
type tierThresholds struct {
	hotDays       int
	warmDays      int
	coldDays      int
	retentionDays int
}

var lifecycleThresholds = map[RiskClass]tierThresholds{
	RiskHigh:     {hotDays: 90, warmDays: 365, coldDays: 1095, retentionDays: 2555},
	RiskElevated: {hotDays: 30, warmDays: 180, coldDays: 730, retentionDays: 1095},
	RiskStandard: {hotDays: 7, warmDays: 30, coldDays: 180, retentionDays: 365},
}

func thresholdsFor(class RiskClass) tierThresholds {
	if t, ok := lifecycleThresholds[class]; ok {
		return t
	}
	return lifecycleThresholds[RiskStandard]
}

// AgeDays returns the whole days elapsed between createdAt and now.
func AgeDays(createdAt, now time.Time) int {
	if now.Before(createdAt) {
		return 0
	}
	return int(now.Sub(createdAt).Hours() / 24)
}

// StorageTier computes the tier for a record of the given action created at
// createdAt. The result is monotonic non-decreasing in age for a fixed
// action: HOT to WARM to COLD to ARCHIVE, never backwards.
func StorageTier(action Action, createdAt, now time.Time) Tier {
	age := AgeDays(createdAt, now)
	t := thresholdsFor(RiskClassOf(action))
	switch {
	case age <= t.hotDays:
		return TierHot
	case age <= t.warmDays:
		return TierWarm
	case age <= t.coldDays:
		return TierCold
	default:
		return TierArchive
	}
}

// RetentionExpired reports whether the record is past its class retention and
// eligible for deletion.
func RetentionExpired(action Action, createdAt, now time.Time) bool {
	return AgeDays(createdAt, now) > thresholdsFor(RiskClassOf(action)).retentionDays
}

// Plan lists record ids per lifecycle operation for one sweep pass.
type Plan struct {
	Archive  []uuid.UUID
	Compress []uuid.UUID
	Delete   []uuid.UUID
	// Retier maps ids needing their stored tier advanced to the computed one.
	Retier map[Tier][]uuid.UUID
}

// GeneratePlan classifies records into delete, compress and archive work.
// A record qualifying for several operations lands in exactly one list:
// delete takes priority over compress, compress over archive. Archive here
// means relocation past the warm boundary; compress applies once the record
// crosses into the ARCHIVE tier.
func GeneratePlan(records []Record, now time.Time) Plan {
	plan := Plan{Retier: make(map[Tier][]uuid.UUID)}
	for _, rec := range records {
		if RetentionExpired(rec.Action, rec.CreatedAt, now) {
			plan.Delete = append(plan.Delete, rec.ID)
			continue
		}
		tier := StorageTier(rec.Action, rec.CreatedAt, now)
		if tier != rec.StorageTier {
			plan.Retier[tier] = append(plan.Retier[tier], rec.ID)
		}
		if tier == TierArchive && !rec.Compressed {
			plan.Compress = append(plan.Compress, rec.ID)
			continue
		}
		if (tier == TierCold || tier == TierArchive) && rec.StorageTier != tier {
			plan.Archive = append(plan.Archive, rec.ID)
		}
	}
	return plan
}
