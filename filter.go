package vkernel

import "github.com/vectorshelf/vkernel/internal/filter"

// Filter is a compiled-once metadata predicate tree. Build one with the
// constructors below and attach it to a Query.
type Filter = filter.Expr

// And is true iff every child is true. And() with no children is true.
func And(children ...Filter) Filter { return filter.And(children...) }

// Or is true iff any child is true. Or() with no children is false.
func Or(children ...Filter) Filter { return filter.Or(children...) }

// Not negates child; Not(Not(e)) is equivalent to e.
func Not(child Filter) Filter { return filter.Not(child) }

// Eq matches a field strictly equal to value (or an array element of it).
func Eq(field string, value any) Filter { return filter.Eq(field, value) }

// Ne is the negation of Eq.
func Ne(field string, value any) Filter { return filter.Ne(field, value) }

// Lt, Le, Gt, Ge compare a numeric field; a non-numeric field value makes
// the comparison false rather than an error.
func Lt(field string, value float64) Filter { return filter.Lt(field, value) }
func Le(field string, value float64) Filter { return filter.Le(field, value) }
func Gt(field string, value float64) Filter { return filter.Gt(field, value) }
func Ge(field string, value float64) Filter { return filter.Ge(field, value) }

// In matches a field equal to any of values; Nin is its negation.
func In(field string, values ...any) Filter  { return filter.In(field, values...) }
func Nin(field string, values ...any) Filter { return filter.Nin(field, values...) }

// Exists matches a field that is present and non-null; MissingOrNull
// matches a field that is absent or explicitly null.
func Exists(field string) Filter        { return filter.Exists(field) }
func MissingOrNull(field string) Filter { return filter.MissingOrNull(field) }
