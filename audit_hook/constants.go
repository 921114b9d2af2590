package audithook

// Action constants for audit events.
const (
	// Workspace actions
	ActionWorkspaceCreated = "workspace.created"

	// Ledger actions
	ActionTransactionRecorded = "transaction.recorded"
	ActionPendingConfirmed    = "transaction.confirmed"
	ActionPendingFailed       = "transaction.failed"
	ActionCreditsRefused      = "credits.refused"

	// Billing actions
	ActionActionsAuthorized = "actions.authorized"
	ActionGraceApplied      = "actions.grace_applied"

	// Tribute actions
	ActionTributeResolved = "tribute.resolved"
	ActionPityTriggered   = "tribute.pity_triggered"

	// Effect actions
	ActionEffectActivated = "effect.activated"
	ActionEffectsSwept    = "effect.swept"

	// Global event actions
	ActionEventCreated = "event.created"
	ActionContribution = "event.contribution"
	ActionEventWon     = "event.won"
	ActionEventExpired = "event.expired"
)

// Resource constants for audit events.
const (
	ResourceWorkspace    = "workspace"
	ResourceTransaction  = "transaction"
	ResourceAllowance    = "allowance"
	ResourceEffect       = "effect"
	ResourceEvent        = "global_event"
	ResourceContribution = "contribution"
)

// Category constants for audit events.
const (
	CategoryLedger  = "ledger"
	CategoryBilling = "billing"
	CategoryReward  = "reward"
	CategoryEvent   = "event"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
