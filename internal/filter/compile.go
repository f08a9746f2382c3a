package filter

// Compiled is a filter expression compiled once to an accessor tree. Eval
// runs in O(expression size * average path depth), re-walking the document
// only along the paths the expression names.
type Compiled struct {
	eval func(doc map[string]any) bool
}

// Compile builds the accessor tree for expr. It never touches a document;
// call Eval once per candidate.
func Compile(expr Expr) *Compiled {
	return &Compiled{eval: compileNode(expr)}
}

// Eval evaluates the compiled expression against doc. A nil doc is treated
// as an empty document (every field absent).
func (c *Compiled) Eval(doc map[string]any) bool {
	if doc == nil {
		doc = map[string]any{}
	}
	return c.eval(doc)
}

func compileNode(expr Expr) func(map[string]any) bool {
	switch e := expr.(type) {
	case andExpr:
		fns := compileAll(e.children)
		return func(doc map[string]any) bool {
			for _, fn := range fns {
				if !fn(doc) {
					return false
				}
			}
			return true
		}
	case orExpr:
		fns := compileAll(e.children)
		return func(doc map[string]any) bool {
			for _, fn := range fns {
				if fn(doc) {
					return true
				}
			}
			return false
		}
	case notExpr:
		inner := compileNode(e.child)
		return func(doc map[string]any) bool { return !inner(doc) }
	case eqExpr:
		path := splitPath(e.field)
		return func(doc map[string]any) bool { return anyLeafEquals(doc, path, e.value) }
	case neExpr:
		path := splitPath(e.field)
		return func(doc map[string]any) bool { return !anyLeafEquals(doc, path, e.value) }
	case ltExpr:
		path := splitPath(e.field)
		return func(doc map[string]any) bool {
			return anyLeafNumeric(doc, path, func(n float64) bool { return n < e.value })
		}
	case leExpr:
		path := splitPath(e.field)
		return func(doc map[string]any) bool {
			return anyLeafNumeric(doc, path, func(n float64) bool { return n <= e.value })
		}
	case gtExpr:
		path := splitPath(e.field)
		return func(doc map[string]any) bool {
			return anyLeafNumeric(doc, path, func(n float64) bool { return n > e.value })
		}
	case geExpr:
		path := splitPath(e.field)
		return func(doc map[string]any) bool {
			return anyLeafNumeric(doc, path, func(n float64) bool { return n >= e.value })
		}
	case inExpr:
		path := splitPath(e.field)
		return func(doc map[string]any) bool {
			for _, v := range e.values {
				if anyLeafEquals(doc, path, v) {
					return true
				}
			}
			return false
		}
	case ninExpr:
		path := splitPath(e.field)
		return func(doc map[string]any) bool {
			for _, v := range e.values {
				if anyLeafEquals(doc, path, v) {
					return false
				}
			}
			return true
		}
	case existsExpr:
		path := splitPath(e.field)
		return func(doc map[string]any) bool { return fieldExists(doc, path) }
	case missingOrNullExpr:
		path := splitPath(e.field)
		return func(doc map[string]any) bool { return !fieldExists(doc, path) }
	default:
		return func(map[string]any) bool { return false }
	}
}

func compileAll(children []Expr) []func(map[string]any) bool {
	fns := make([]func(map[string]any) bool, len(children))
	for i, c := range children {
		fns[i] = compileNode(c)
	}
	return fns
}

// resolveLeaves walks path against doc, implicitly flattening through
// arrays (existential match: any element satisfying the rest of the path
// counts). It returns every leaf value reached; an absent path yields none.
func resolveLeaves(cur any, path []string) []any {
	if len(path) == 0 {
		if arr, ok := cur.([]any); ok {
			var out []any
			for _, elem := range arr {
				out = append(out, resolveLeaves(elem, path)...)
			}
			return out
		}
		return []any{cur}
	}
	switch v := cur.(type) {
	case map[string]any:
		next, ok := v[path[0]]
		if !ok {
			return nil
		}
		return resolveLeaves(next, path[1:])
	case []any:
		var out []any
		for _, elem := range v {
			out = append(out, resolveLeaves(elem, path)...)
		}
		return out
	default:
		return nil
	}
}

func fieldExists(doc map[string]any, path []string) bool {
	for _, leaf := range resolveLeaves(doc, path) {
		if leaf != nil {
			return true
		}
	}
	return false
}

func anyLeafEquals(doc map[string]any, path []string, target any) bool {
	for _, leaf := range resolveLeaves(doc, path) {
		if strictEqual(leaf, target) {
			return true
		}
	}
	return false
}

func anyLeafNumeric(doc map[string]any, path []string, pred func(float64) bool) bool {
	for _, leaf := range resolveLeaves(doc, path) {
		n, ok := asNumber(leaf)
		if ok && pred(n) {
			return true
		}
	}
	return false
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// strictEqual implements type-strict equality: a number compares equal to
// another number regardless of Go numeric kind (JSON decoding always
// produces float64, but callers may construct Exprs with int literals), but
// a string never compares equal to a number or bool, and so on.
func strictEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if an, ok := asNumber(a); ok {
		bn, ok := asNumber(b)
		return ok && an == bn
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	default:
		return false
	}
}
