package coffer

import "github.com/xraph/coffer/id"

// ID is the primary identifier type for all Coffer entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
