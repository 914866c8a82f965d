package audit

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Action identifies an auditable operation from the closed taxonomy.
type Action string

// Authentication actions.
const (
	ActionUserLogin      Action = "auth.login"
	ActionUserLogout     Action = "auth.logout"
	ActionLoginFailed    Action = "auth.login_failed"
	ActionTokenRefresh   Action = "auth.token_refresh"
	ActionPasswordChange Action = "auth.password_change"
)

// User lifecycle actions.
const (
	ActionUserCreate     Action = "user.create"
	ActionUserUpdate     Action = "user.update"
	ActionUserDelete     Action = "user.delete"
	ActionUserSuspend    Action = "user.suspend"
	ActionUserActivate   Action = "user.activate"
	ActionUserRoleAssign Action = "user.role.assign"
	ActionUserRoleRemove Action = "user.role.remove"
)

// Role and permission management actions.
const (
	ActionRoleCreate            Action = "role.create"
	ActionRoleUpdate            Action = "role.update"
	ActionRoleDelete            Action = "role.delete"
	ActionRolePermissionsUpdate Action = "role.permissions.update"
	ActionPermissionCreate      Action = "permission.create"
	ActionPermissionUpdate      Action = "permission.update"
	ActionPermissionDelete      Action = "permission.delete"
)

// Platform actions.
const (
	ActionSystemSettingsUpdate Action = "system.settings.update"
	ActionDataExport           Action = "data.export"
	ActionAuditPurge           Action = "audit.purge"
	ActionAuditExport          Action = "audit.export"
	ActionAccessDenied         Action = "authz.access_denied"
)

// The three disjoint classification sets. Anything outside them takes the
// BASIC/365-day defaults.
var (
	highRiskActions = actionSet(
		ActionUserDelete,
		ActionRoleDelete,
		ActionSystemSettingsUpdate,
		ActionAuditPurge,
		ActionDataExport,
	)
	authenticationActions = actionSet(
		ActionUserLogin,
		ActionUserLogout,
		ActionLoginFailed,
		ActionTokenRefresh,
		ActionPasswordChange,
	)
	permissionActions = actionSet(
		ActionRoleCreate,
		ActionRoleUpdate,
		ActionRolePermissionsUpdate,
		ActionPermissionCreate,
		ActionPermissionUpdate,
		ActionPermissionDelete,
		ActionUserRoleAssign,
		ActionUserRoleRemove,
		ActionUserSuspend,
		ActionUserActivate,
	)
)

func actionSet(actions ...Action) map[Action]struct{} {
	set := make(map[Action]struct{}, len(actions))
	for _, a := range actions {
		set[a] = struct{}{}
	}
	return set
}

// HighRisk reports whether a requires extended retention and full capture.
func (a Action) HighRisk() bool {
	_, ok := highRiskActions[a]
	return ok
}

// Authentication reports whether a belongs to the authentication set.
func (a Action) Authentication() bool {
	_, ok := authenticationActions[a]
	return ok
}

// PermissionManagement reports whether a belongs to the
// permission-management set.
func (a Action) PermissionManagement() bool {
	_, ok := permissionActions[a]
	return ok
}

var actionDescriptions = map[Action]string{
	ActionUserLogin:             "User signed in",
	ActionUserLogout:            "User signed out",
	ActionLoginFailed:           "Sign-in attempt failed",
	ActionTokenRefresh:          "Access token refreshed",
	ActionPasswordChange:        "Password changed",
	ActionUserCreate:            "User account created",
	ActionUserUpdate:            "User account updated",
	ActionUserDelete:            "User account deleted",
	ActionUserSuspend:           "User account suspended",
	ActionUserActivate:          "User account activated",
	ActionUserRoleAssign:        "Role assigned to user",
	ActionUserRoleRemove:        "Role removed from user",
	ActionRoleCreate:            "Role created",
	ActionRoleUpdate:            "Role updated",
	ActionRoleDelete:            "Role deleted",
	ActionRolePermissionsUpdate: "Role permission set updated",
	ActionPermissionCreate:      "Permission created",
	ActionPermissionUpdate:      "Permission updated",
	ActionPermissionDelete:      "Permission deleted",
	ActionSystemSettingsUpdate:  "System settings changed",
	ActionDataExport:            "Data exported",
	ActionAuditPurge:            "Audit records purged",
	ActionAuditExport:           "Audit records exported",
	ActionAccessDenied:          "Access denied",
}

// Describe returns a human readable description for the action, with a
// graceful default for unmapped entries.
func (a Action) Describe() string {
	if desc, ok := actionDescriptions[a]; ok {
		return desc
	}
	return "Unclassified action: " + string(a)
}

// Outcome is the result of an audited operation.
type Outcome string

// Outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Record is the immutable evidentiary entity. It is never mutated after
// creation; the storage tier and compression flags are storage bookkeeping
// driven by the lifecycle sweep, not part of the evidentiary payload.
type Record struct {
	ID           uuid.UUID
	ActorID      *int64
	ActorName    string
	Action       Action
	ResourceType string
	ResourceID   string
	Description  string
	Outcome      Outcome
	ErrorMessage string
	IP           string
	UserAgent    string
	RequestID    string
	Metadata     map[string]any
	StorageTier  Tier
	Compressed   bool
	CreatedAt    time.Time
}

// NewRecord validates and constructs a Record. A failure outcome requires a
// non-empty error message; a system action may have a nil actor.
func NewRecord(action Action, actorID *int64, actorName string, outcome Outcome, errorMessage string, now time.Time) (Record, error) {
	if action == "" {
		return Record{}, errors.New("audit: action required")
	}
	switch outcome {
	case OutcomeSuccess, OutcomeFailure:
	default:
		return Record{}, errors.New("audit: invalid outcome")
	}
	if outcome == OutcomeFailure && errorMessage == "" {
		return Record{}, errors.New("audit: failure outcome requires an error message")
	}
	return Record{
		ID:           uuid.New(),
		ActorID:      actorID,
		ActorName:    actorName,
		Action:       action,
		Outcome:      outcome,
		ErrorMessage: errorMessage,
		Description:  action.Describe(),
		StorageTier:  TierHot,
		CreatedAt:    now.UTC(),
	}, nil
}
