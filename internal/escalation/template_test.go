package escalation

import "testing"

func TestRender_SubstitutesKnownTokens(t *testing.T) {
	out := Render("Invoice {{invoice_number}} for {{total}} from {{company_name}}", map[string]string{
		"invoice_number": "INV-042",
		"total":          "150.00",
		"company_name":   "Acme Trading",
	})

	want := "Invoice INV-042 for 150.00 from Acme Trading"
	if out != want {
		t.Errorf("got %q, want %q", out, want)
	}
}

func TestRender_UnknownTokensLeftVerbatim(t *testing.T) {
	out := Render("Hello {{client_name}}, ref {{mystery_field}}", map[string]string{
		"client_name": "Dana",
	})

	want := "Hello Dana, ref {{mystery_field}}"
	if out != want {
		t.Errorf("got %q, want %q", out, want)
	}
}

func TestRender_MissingValueBlanksNothing(t *testing.T) {
	// An empty value is a substitution, not a missing key.
	out := Render("From {{company_name}}.", map[string]string{"company_name": ""})
	if out != "From ." {
		t.Errorf("got %q", out)
	}
}

func TestRender_RepeatedToken(t *testing.T) {
	out := Render("{{name}} and {{name}}", map[string]string{"name": "x"})
	if out != "x and x" {
		t.Errorf("got %q", out)
	}
}

func TestRender_NoTokens(t *testing.T) {
	in := "plain text, no placeholders"
	if out := Render(in, map[string]string{"a": "b"}); out != in {
		t.Errorf("got %q, want input unchanged", out)
	}
}

func TestRender_ValueContainingTokenNotReexpanded(t *testing.T) {
	// Substituted values are data, never re-scanned as templates.
	out := Render("{{a}}", map[string]string{
		"a": "{{b}}",
		"b": "nope",
	})
	if out != "{{b}}" {
		t.Errorf("got %q, want %q", out, "{{b}}")
	}
}

func TestRender_WhitespaceInsideBraces(t *testing.T) {
	out := Render("{{ client_name }}", map[string]string{"client_name": "Dana"})
	if out != "Dana" {
		t.Errorf("got %q", out)
	}
}
