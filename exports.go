package coffer

import "github.com/xraph/coffer/types"

// Re-export common types for convenience so users don't have to import types package.

// Credits is re-exported from types package.
type Credits = types.Credits

// Entity is re-exported from types package.
type Entity = types.Entity

// Re-export Credits constructors
var (
	FromMajor        = types.FromMajor
	FromDecimal      = types.FromDecimal
	ParseCredits     = types.ParseCredits
	MustParseCredits = types.MustParseCredits
	Sum              = types.Sum
)

// Re-export Entity constructor
var NewEntity = types.NewEntity

// Zero is the empty balance.
const Zero = types.Zero
