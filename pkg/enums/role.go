package enums

// OperatorRole is carried in ops tokens.
type OperatorRole string

const (
	// OperatorRoleOps may approve orders and replay notifications.
	OperatorRoleOps OperatorRole = "ops"
	// OperatorRoleViewer may only list notification tasks.
	OperatorRoleViewer OperatorRole = "viewer"
)

func (r OperatorRole) IsValid() bool {
	return r == OperatorRoleOps || r == OperatorRoleViewer
}
