package graph

import "testing"

func TestParseCondition(t *testing.T) {
	valid := []string{
		`var.score >= 0.8`,
		`status == "done"`,
		`status == done`,
		`count != 3`,
		`flag == true`,
		`name == 'alice'`,
	}
	for _, s := range valid {
		if _, err := ParseCondition(s); err != nil {
			t.Errorf("ParseCondition(%q): %v", s, err)
		}
	}

	invalid := []string{
		``,
		`score`,
		`score >`,
		`> 3`,
		`1score == 2`,
		`status > "done"`, // ordering needs numbers
		`flag < true`,
	}
	for _, s := range invalid {
		if _, err := ParseCondition(s); err == nil {
			t.Errorf("ParseCondition(%q): expected error", s)
		}
	}
}

func TestConditionEval(t *testing.T) {
	vars := map[string]any{
		"score":  0.9,
		"count":  int64(5),
		"status": "done",
		"flag":   true,
		"nested": map[string]any{"level": 2},
	}

	cases := []struct {
		expr string
		want bool
	}{
		{`score >= 0.8`, true},
		{`var.score < 0.5`, false},
		{`count == 5`, true},
		{`count > 5`, false},
		{`status == done`, true},
		{`status != "done"`, false},
		{`flag == true`, true},
		{`flag != true`, false},
		{`nested.level == 2`, true},
	}
	for _, tc := range cases {
		c, err := ParseCondition(tc.expr)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.expr, err)
		}
		got, err := c.Eval(vars)
		if err != nil {
			t.Fatalf("eval %q: %v", tc.expr, err)
		}
		if got != tc.want {
			t.Errorf("eval %q = %v, want %v", tc.expr, got, tc.want)
		}
	}
}

func TestConditionEval_Errors(t *testing.T) {
	c, err := ParseCondition(`missing == 1`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := c.Eval(map[string]any{}); err == nil {
		t.Fatal("expected error for unset variable")
	}

	c, err = ParseCondition(`status > 3`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := c.Eval(map[string]any{"status": "done"}); err == nil {
		t.Fatal("expected error comparing non-numeric variable")
	}
}
