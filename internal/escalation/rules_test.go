package escalation

import "testing"

func testRules() []Rule {
	return []Rule{
		{Tier: 0, ThresholdDays: 3, Subject: "s0 {{invoice_number}}", Body: "b0 {{total}}"},
		{Tier: 1, ThresholdDays: 10, Subject: "s1", Body: "b1"},
		{Tier: 2, ThresholdDays: 30, Subject: "s2", Body: "b2"},
	}
}

func TestSelectRule_FirstTier(t *testing.T) {
	// 5 days overdue, nothing sent yet: tier 0 is due.
	rule, ok := SelectRule(testRules(), 5, 0)
	if !ok {
		t.Fatal("expected a rule to match")
	}
	if rule.Tier != 0 {
		t.Errorf("expected tier 0, got %d", rule.Tier)
	}
}

func TestSelectRule_TooFresh(t *testing.T) {
	if _, ok := SelectRule(testRules(), 2, 0); ok {
		t.Error("expected no rule for an invoice under the first threshold")
	}
}

func TestSelectRule_MustWaitForNextThreshold(t *testing.T) {
	// 6 days overdue with tier 0 already sent: tier 1 needs 10 days, so
	// nothing is due yet even though tier 0's threshold has long passed.
	if _, ok := SelectRule(testRules(), 6, 1); ok {
		t.Error("expected no rule while below the next tier's threshold")
	}
}

func TestSelectRule_SecondTier(t *testing.T) {
	rule, ok := SelectRule(testRules(), 12, 1)
	if !ok {
		t.Fatal("expected a rule to match")
	}
	if rule.Tier != 1 {
		t.Errorf("expected tier 1, got %d", rule.Tier)
	}
}

func TestSelectRule_NoSkippingTiers(t *testing.T) {
	// Aged far past tier 2's threshold but only tier 0 was sent: the next
	// reminder must still be tier 1.
	rule, ok := SelectRule(testRules(), 45, 1)
	if !ok {
		t.Fatal("expected a rule to match")
	}
	if rule.Tier != 1 {
		t.Errorf("expected tier 1, got %d", rule.Tier)
	}
}

func TestSelectRule_SilentAfterHighestTier(t *testing.T) {
	if _, ok := SelectRule(testRules(), 90, 3); ok {
		t.Error("expected silence once every tier has been sent")
	}
}

func TestValidateRules_Defaults(t *testing.T) {
	if err := ValidateRules(DefaultRules()); err != nil {
		t.Errorf("default rules should validate, got: %v", err)
	}
}

func TestValidateRules_Rejects(t *testing.T) {
	cases := []struct {
		name  string
		rules []Rule
	}{
		{"empty", nil},
		{"tier gap", []Rule{
			{Tier: 0, ThresholdDays: 3, Subject: "s", Body: "b"},
			{Tier: 2, ThresholdDays: 10, Subject: "s", Body: "b"},
		}},
		{"non-ascending thresholds", []Rule{
			{Tier: 0, ThresholdDays: 10, Subject: "s", Body: "b"},
			{Tier: 1, ThresholdDays: 10, Subject: "s", Body: "b"},
		}},
		{"zero threshold", []Rule{
			{Tier: 0, ThresholdDays: 0, Subject: "s", Body: "b"},
		}},
		{"empty template", []Rule{
			{Tier: 0, ThresholdDays: 3, Subject: "", Body: "b"},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := ValidateRules(tc.rules); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
