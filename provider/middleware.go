package provider

// Middleware transforms a Provider by wrapping it. The returned provider
// typically delegates to the original while adding cross-cutting behavior to
// Connect and to the handles it returns.
type Middleware func(Provider) Provider

// Chain composes multiple middlewares into one. Middlewares are applied
// in order: the first middleware is outermost.
//
// Chain(a, b, c)(p) is equivalent to a(b(c(p))).
func Chain(middlewares ...Middleware) Middleware {
	return func(inner Provider) Provider {
		for i := len(middlewares) - 1; i >= 0; i-- {
			inner = middlewares[i](inner)
		}
		return inner
	}
}
