package audit

import "strings"

// Level is the depth of detail captured for an action class.
type Level string

// Audit levels.
const (
	LevelBasic    Level = "BASIC"
	LevelDetailed Level = "DETAILED"
	LevelSecurity Level = "SECURITY"
)

// Rule is the static classification for one action.
type Rule struct {
	Level               Level
	CaptureRequestBody  bool
	CaptureResponseBody bool
	RetentionDays       int
	RequiredMetadata    []string
}

// Metadata fields demanded per action class, on top of the base pair.
var (
	baseMetadataFields       = []string{"user_agent", "ip_address"}
	authMetadataFields       = []string{"login_method", "session_id"}
	permissionMetadataFields = []string{"affected_users", "permission_changes"}
	highRiskMetadataFields   = []string{"reason", "approval_id"}
)

// Substrings that force anonymization.
var (
	credentialSubstrings = []string{"password", "token", "api_key", "secret"}
	personalSubstrings   = []string{"email", "phone", "address", "id_card"}
)

// anonymizedValue replaces metadata values the policy withholds.
const anonymizedValue = "***"

// Classify returns the audit level for an action: DETAILED for high-risk and
// permission-management actions, SECURITY for authentication, BASIC otherwise.
func Classify(action Action) Level {
	switch {
	case action.HighRisk(), action.PermissionManagement():
		return LevelDetailed
	case action.Authentication():
		return LevelSecurity
	default:
		return LevelBasic
	}
}

// CaptureRequestBody reports whether the request payload must be captured.
func CaptureRequestBody(action Action) bool {
	return action.HighRisk() || action.PermissionManagement()
}

// CaptureResponseBody reports whether the response payload must be captured.
// Failures are always captured regardless of action class to aid diagnosis.
func CaptureResponseBody(action Action, outcome Outcome) bool {
	return outcome == OutcomeFailure || action.HighRisk()
}

// RetentionDays returns how long records for the action must be kept.
func RetentionDays(action Action) int {
	return thresholdsFor(RiskClassOf(action)).retentionDays
}

// RequiredMetadataFields lists the metadata keys a record for the action must
// carry.
func RequiredMetadataFields(action Action) []string {
	fields := append([]string(nil), baseMetadataFields...)
	if action.Authentication() {
		fields = append(fields, authMetadataFields...)
	}
	if action.PermissionManagement() {
		fields = append(fields, permissionMetadataFields...)
	}
	if action.HighRisk() {
		fields = append(fields, highRiskMetadataFields...)
	}
	return fields
}

// ShouldAnonymize reports whether the metadata field must be withheld.
// Credential material is withheld unconditionally. Personal data is withheld
// except for high-risk actions, which retain PII for investigatory
// completeness.
func ShouldAnonymize(action Action, fieldName string) bool {
	lowered := strings.ToLower(fieldName)
	for _, sub := range credentialSubstrings {
		if strings.Contains(lowered, sub) {
			return true
		}
	}
	if action.HighRisk() {
		return false
	}
	for _, sub := range personalSubstrings {
		if strings.Contains(lowered, sub) {
			return true
		}
	}
	return false
}

// Anonymize returns a copy of metadata with withheld fields masked. The input
// map is never modified.
func Anonymize(action Action, metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	out := make(map[string]any, len(metadata))
	for key, value := range metadata {
		if ShouldAnonymize(action, key) {
			out[key] = anonymizedValue
			continue
		}
		out[key] = value
	}
	return out
}

// RuleFor bundles the full static classification for an action.
func RuleFor(action Action) Rule {
	return Rule{
		Level:               Classify(action),
		CaptureRequestBody:  CaptureRequestBody(action),
		CaptureResponseBody: action.HighRisk(),
		RetentionDays:       RetentionDays(action),
		RequiredMetadata:    RequiredMetadataFields(action),
	}
}
