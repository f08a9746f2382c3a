package filter

import "testing"

func TestEmptyAndIsTrue(t *testing.T) {
	c := Compile(And())
	if !c.Eval(map[string]any{}) {
		t.Fatalf("And() should be true")
	}
}

func TestEmptyOrIsFalse(t *testing.T) {
	c := Compile(Or())
	if c.Eval(map[string]any{}) {
		t.Fatalf("Or() should be false")
	}
}

func TestNotNotIsIdentity(t *testing.T) {
	doc := map[string]any{"c": "x"}
	base := Eq("c", "x")
	c := Compile(Not(Not(base)))
	want := Compile(base).Eval(doc)
	if c.Eval(doc) != want {
		t.Fatalf("Not(Not(e)) != e")
	}
}

func TestEqIsStrictlyTyped(t *testing.T) {
	doc := map[string]any{"n": float64(3)}
	if !Compile(Eq("n", 3)).Eval(doc) {
		t.Fatalf("expected int 3 to equal decoded float64 3")
	}
	if Compile(Eq("n", "3")).Eval(doc) {
		t.Fatalf("string \"3\" must not equal number 3")
	}
}

func TestDottedFieldPath(t *testing.T) {
	doc := map[string]any{"a": map[string]any{"b": map[string]any{"c": "x"}}}
	if !Compile(Eq("a.b.c", "x")).Eval(doc) {
		t.Fatalf("expected nested field match")
	}
}

func TestArrayExistentialMatch(t *testing.T) {
	doc := map[string]any{"tags": []any{"a", "b", "c"}}
	if !Compile(Eq("tags", "b")).Eval(doc) {
		t.Fatalf("expected existential match against array element")
	}
	if Compile(Eq("tags", "z")).Eval(doc) {
		t.Fatalf("unexpected match")
	}
}

func TestNumericComparisonFalseOnNonNumber(t *testing.T) {
	doc := map[string]any{"n": "not-a-number"}
	if Compile(Gt("n", 1)).Eval(doc) {
		t.Fatalf("comparison against a non-numeric value must be false, not an error")
	}
}

func TestMissingFieldIsFalseExceptMissingOrNull(t *testing.T) {
	doc := map[string]any{}
	if Compile(Eq("missing", "x")).Eval(doc) {
		t.Fatalf("Eq over a missing field should be false")
	}
	if Compile(Exists("missing")).Eval(doc) {
		t.Fatalf("Exists over a missing field should be false")
	}
	if !Compile(MissingOrNull("missing")).Eval(doc) {
		t.Fatalf("MissingOrNull over a missing field should be true")
	}
}

func TestMissingOrNullOnExplicitNull(t *testing.T) {
	doc := map[string]any{"f": nil}
	if !Compile(MissingOrNull("f")).Eval(doc) {
		t.Fatalf("explicit null should satisfy MissingOrNull")
	}
	if Compile(Exists("f")).Eval(doc) {
		t.Fatalf("explicit null should not satisfy Exists")
	}
}

func TestInAndNin(t *testing.T) {
	doc := map[string]any{"c": "x"}
	if !Compile(In("c", "x", "y")).Eval(doc) {
		t.Fatalf("expected In match")
	}
	if Compile(Nin("c", "x", "y")).Eval(doc) {
		t.Fatalf("expected Nin to reject a matching value")
	}
	if !Compile(Nin("c", "y", "z")).Eval(doc) {
		t.Fatalf("expected Nin to accept a non-matching value")
	}
}

func TestAndOrNesting(t *testing.T) {
	doc := map[string]any{"c": "x", "n": float64(5)}
	c := Compile(Or(And(Eq("c", "y")), And(Eq("c", "x"), Gt("n", 3))))
	if !c.Eval(doc) {
		t.Fatalf("expected nested Or(And, And) to match")
	}
}
