package assemble

import "context"

// Passage is one ranked text result from a document supplier.
type Passage struct {
	Text  string
	Score float64
}

// DocumentSupplier returns ranked text passages for a query. The search
// algorithm is external; the assembler only consumes its output under a
// caller-specified timeout, treating errors and timeouts as an empty
// result rather than failing the whole assembly.
type DocumentSupplier interface {
	Search(ctx context.Context, query string, limit int) ([]Passage, error)
}

// SupplierFunc adapts a function to the DocumentSupplier interface.
type SupplierFunc func(ctx context.Context, query string, limit int) ([]Passage, error)

// Search calls f.
func (f SupplierFunc) Search(ctx context.Context, query string, limit int) ([]Passage, error) {
	return f(ctx, query, limit)
}
