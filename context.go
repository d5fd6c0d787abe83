package guardian

import "context"

type operatorContextKey struct{}
type requestTagContextKey struct{}

// WithOperator attaches an operator identity to ctx. It appears in audit
// events for actions taken on that operator's behalf.
func WithOperator(ctx context.Context, operator string) context.Context {
	return context.WithValue(ctx, operatorContextKey{}, operator)
}

// WithRequestTag attaches a correlation tag to ctx, carried into audit
// event metadata so multi-account batch runs can be grouped.
func WithRequestTag(ctx context.Context, tag string) context.Context {
	return context.WithValue(ctx, requestTagContextKey{}, tag)
}

func operatorFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	op, _ := ctx.Value(operatorContextKey{}).(string)
	return op
}

func requestTagFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	tag, _ := ctx.Value(requestTagContextKey{}).(string)
	return tag
}
