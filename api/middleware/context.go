package middleware

import "context"

type operatorKey struct{}

type operatorIdentity struct {
	name string
	role string
}

func identity(ctx context.Context) operatorIdentity {
	if ctx == nil {
		return operatorIdentity{}
	}
	id, _ := ctx.Value(operatorKey{}).(operatorIdentity)
	return id
}

// OperatorFromContext returns the authenticated operator name, or "" on
// public routes.
func OperatorFromContext(ctx context.Context) string { return identity(ctx).name }

func RoleFromContext(ctx context.Context) string { return identity(ctx).role }

// WithOperator seeds the context the way Auth does; handlers and tests use it.
func WithOperator(ctx context.Context, operator, role string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, operatorKey{}, operatorIdentity{name: operator, role: role})
}
