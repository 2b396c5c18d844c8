package classexpr

import "testing"

func set(names ...string) SetResolver {
	m := make(SetResolver, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

func TestEvalAndOr(t *testing.T) {
	r := set("linux", "ready")
	cases := []struct {
		expr string
		want bool
	}{
		{"linux", true},
		{"windows", false},
		{"linux.ready", true},
		{"linux&ready", true},
		{"linux.windows", false},
		{"linux|windows", true},
		{"windows|aix", false},
	}
	for _, c := range cases {
		e, err := Parse(c.expr)
		if err != nil {
			t.Fatalf("Parse(%q): %v", c.expr, err)
		}
		if got := e.Eval(r); got != c.want {
			t.Errorf("Eval(%q) = %v, want %v", c.expr, got, c.want)
		}
	}
}

func TestNegation(t *testing.T) {
	r := set("linux")
	e, err := Parse("!windows")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !e.Eval(r) {
		t.Fatalf("!windows should be true when windows is undefined")
	}
}

func TestAnyLiteralAlwaysTrue(t *testing.T) {
	e, _ := Parse("any")
	if !e.Eval(set()) {
		t.Fatalf("any must always evaluate true")
	}
}

func TestParenthesesAndPrecedence(t *testing.T) {
	r := set("a", "d")
	e, err := Parse("(a|b).(c|d)")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !e.Eval(r) {
		t.Fatalf("(a|b).(c|d) should be true when a and d are defined")
	}
}

func TestMoreThanTwoBracketedGroupsAccepted(t *testing.T) {
	// The original C IsBracketed rejected expressions with more than
	// two bracketed groups (e.g. "(a|b).(c).(d|e)"); this grammar has no
	// such limit since the parser itself defines what "balanced" means.
	r := set("a", "d")
	_, err := Parse("(a|b).(c).(d|e)")
	if err != nil {
		t.Fatalf("expected more than two bracketed groups to parse fine, got %v", err)
	}
	e, _ := Parse("(a|zzz).(any).(d|zzz)")
	if !e.Eval(r) {
		t.Fatalf("expected true")
	}
}

func TestNamespaceQualifiedIdentifier(t *testing.T) {
	e, err := Parse("myns:ready")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	tracker := &nsTrackingResolver{}
	e.Eval(tracker)
	if tracker.ns != "myns" || tracker.name != "ready" {
		t.Fatalf("got ns=%q name=%q", tracker.ns, tracker.name)
	}
}

func TestDefaultNamespacePrefixStripped(t *testing.T) {
	e, err := Parse("default:ready")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	tracker := &nsTrackingResolver{}
	e.Eval(tracker)
	if tracker.ns != "" {
		t.Fatalf("default: prefix should be stripped to empty namespace, got %q", tracker.ns)
	}
}

type nsTrackingResolver struct {
	ns, name string
}

func (r *nsTrackingResolver) Contains(name, ns string) bool {
	r.ns, r.name = ns, name
	return true
}

func TestParseErrorUnbalancedParen(t *testing.T) {
	_, err := Parse("(a.b")
	if err == nil {
		t.Fatalf("expected parse error for unbalanced parenthesis")
	}
	pe, ok := err.(*ParseError)
	if !ok {
		t.Fatalf("expected *ParseError, got %T", err)
	}
	if pe.Position != 4 {
		t.Fatalf("expected error position at end of input (4), got %d", pe.Position)
	}
}

func TestParseErrorTrailingInput(t *testing.T) {
	_, err := Parse("a.b)")
	if err == nil {
		t.Fatalf("expected parse error for unmatched closing paren")
	}
}

func TestEvalAgainstProcessResultTokens(t *testing.T) {
	tokens := map[string]bool{"pid_exists": true, "zombie": false}
	got, err := EvalAgainst("pid_exists.!zombie", tokens)
	if err != nil {
		t.Fatalf("EvalAgainst: %v", err)
	}
	if !got {
		t.Fatalf("expected true")
	}
}

func TestValidate(t *testing.T) {
	if err := Validate("a.b|!c"); err != nil {
		t.Fatalf("Validate should accept well-formed expression: %v", err)
	}
	if err := Validate("a.(b"); err == nil {
		t.Fatalf("Validate should reject malformed expression")
	}
}
