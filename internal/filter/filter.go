// Package filter implements the metadata filter algebra: a small boolean
// expression language over a JSON-typed metadata document, compiled once to
// an in-memory accessor tree and evaluated directly against the document
// (never lowered to a query language), following the grammar:
//
//	Expr := And(Expr*) | Or(Expr*) | Not(Expr)
//	      | Eq(field, value) | Ne(field, value)
//	      | Lt(field, num) | Le(field, num) | Gt(field, num) | Ge(field, num)
//	      | In(field, value*) | Nin(field, value*)
//	      | Exists(field) | MissingOrNull(field)
package filter

import "strings"

// Expr is a node in a filter expression tree.
type Expr interface {
	isExpr()
}

type andExpr struct{ children []Expr }
type orExpr struct{ children []Expr }
type notExpr struct{ child Expr }
type eqExpr struct {
	field string
	value any
}
type neExpr struct {
	field string
	value any
}
type ltExpr struct {
	field string
	value float64
}
type leExpr struct {
	field string
	value float64
}
type gtExpr struct {
	field string
	value float64
}
type geExpr struct {
	field string
	value float64
}
type inExpr struct {
	field  string
	values []any
}
type ninExpr struct {
	field  string
	values []any
}
type existsExpr struct{ field string }
type missingOrNullExpr struct{ field string }

func (andExpr) isExpr()           {}
func (orExpr) isExpr()            {}
func (notExpr) isExpr()           {}
func (eqExpr) isExpr()            {}
func (neExpr) isExpr()            {}
func (ltExpr) isExpr()            {}
func (leExpr) isExpr()            {}
func (gtExpr) isExpr()            {}
func (geExpr) isExpr()            {}
func (inExpr) isExpr()            {}
func (ninExpr) isExpr()           {}
func (existsExpr) isExpr()        {}
func (missingOrNullExpr) isExpr() {}

// And is true iff every child is true. And() (zero children) is true.
func And(children ...Expr) Expr { return andExpr{children} }

// Or is true iff any child is true. Or() (zero children) is false.
func Or(children ...Expr) Expr { return orExpr{children} }

// Not negates child.
func Not(child Expr) Expr { return notExpr{child} }

// Eq matches when field's value is strictly type-and-value equal to value,
// or when field is an array containing such an element.
func Eq(field string, value any) Expr { return eqExpr{field, value} }

// Ne is the negation of Eq (not "not equal to any array element" — a field
// missing entirely also satisfies Ne, matching Not(Eq(...))'s semantics).
func Ne(field string, value any) Expr { return neExpr{field, value} }

// Lt matches when field (or some array element of it) is a number strictly
// less than value. A non-numeric field value makes the comparison false,
// not an error.
func Lt(field string, value float64) Expr { return ltExpr{field, value} }

// Le is Lt-or-equal.
func Le(field string, value float64) Expr { return leExpr{field, value} }

// Gt matches when field is a number strictly greater than value.
func Gt(field string, value float64) Expr { return gtExpr{field, value} }

// Ge is Gt-or-equal.
func Ge(field string, value float64) Expr { return geExpr{field, value} }

// In matches when field equals (strictly) any of values, or is an array
// with such an element.
func In(field string, values ...any) Expr { return inExpr{field, values} }

// Nin is the negation of In.
func Nin(field string, values ...any) Expr { return ninExpr{field, values} }

// Exists matches when field is present and non-null.
func Exists(field string) Expr { return existsExpr{field} }

// MissingOrNull matches when field is absent or explicitly null.
func MissingOrNull(field string) Expr { return missingOrNullExpr{field} }

// splitPath splits a dotted field path ("a.b.c") into its segments.
func splitPath(field string) []string {
	return strings.Split(field, ".")
}
