package escalation

import "fmt"

// Rule is one tier of the escalation ladder. Tiers are 0-based and strictly
// ordered: an invoice that has received N reminders is only ever eligible
// for tier N, and only once it is at least ThresholdDays overdue.
type Rule struct {
	Tier          int
	ThresholdDays int
	Subject       string
	Body          string
}

// DefaultRules returns the standard three-step ladder: a gentle nudge at
// three days, an urgent reminder at ten, and a formal notice at thirty.
func DefaultRules() []Rule {
	return []Rule{
		{
			Tier:          0,
			ThresholdDays: 3,
			Subject:       "Payment reminder: invoice {{invoice_number}}",
			Body: "<p>Dear {{client_name}},</p>" +
				"<p>This is a friendly reminder from {{company_name}} that invoice " +
				"<strong>{{invoice_number}}</strong> for {{total}} was due on {{due_date}} " +
				"and remains unpaid.</p>" +
				"<p>If you have already made the payment, please disregard this message.</p>" +
				"<p>Kind regards,<br>{{company_name}}</p>",
		},
		{
			Tier:          1,
			ThresholdDays: 10,
			Subject:       "Second notice: invoice {{invoice_number}} is overdue",
			Body: "<p>Dear {{client_name}},</p>" +
				"<p>Despite our earlier reminder, invoice <strong>{{invoice_number}}</strong> " +
				"for {{total}}, due {{due_date}}, is still outstanding.</p>" +
				"<p>Please arrange payment at your earliest convenience or contact " +
				"{{company_name}} if you believe this is in error.</p>" +
				"<p>Regards,<br>{{company_name}}</p>",
		},
		{
			Tier:          2,
			ThresholdDays: 30,
			Subject:       "Formal notice: overdue invoice {{invoice_number}}",
			Body: "<p>Dear {{client_name}},</p>" +
				"<p>Invoice <strong>{{invoice_number}}</strong> for {{total}} has been " +
				"outstanding since {{due_date}}. This is a formal notice that the account " +
				"is seriously overdue.</p>" +
				"<p>Please settle the balance immediately to avoid further action. " +
				"If payment has been made in the last few days, contact {{company_name}} " +
				"so we can reconcile our records.</p>" +
				"<p>{{company_name}}</p>",
		},
	}
}

// ValidateRules checks that the ladder is well formed: tiers contiguous from
// zero and thresholds strictly ascending.
func ValidateRules(rules []Rule) error {
	if len(rules) == 0 {
		return fmt.Errorf("rule table is empty")
	}
	for i, r := range rules {
		if r.Tier != i {
			return fmt.Errorf("rule %d has tier %d, want %d", i, r.Tier, i)
		}
		if r.ThresholdDays < 1 {
			return fmt.Errorf("rule %d has threshold %d days, want >= 1", i, r.ThresholdDays)
		}
		if i > 0 && r.ThresholdDays <= rules[i-1].ThresholdDays {
			return fmt.Errorf("rule %d threshold %d not above previous %d",
				i, r.ThresholdDays, rules[i-1].ThresholdDays)
		}
		if r.Subject == "" || r.Body == "" {
			return fmt.Errorf("rule %d has an empty template", i)
		}
	}
	return nil
}

// SelectRule picks the tier due for an invoice, or reports that none is.
//
// Scanning from the highest tier downward, the first rule whose threshold the
// invoice has aged past AND whose tier equals the number of reminders already
// sent is selected. Requiring priorSent == Tier means reminders escalate one
// step at a time: an invoice that aged past tier 2 while only tier 0 was sent
// still gets tier 1 next, so the client always sees a coherent sequence.
// An invoice that already received the highest tier matches nothing and goes
// silent.
func SelectRule(rules []Rule, daysOverdue, priorSent int) (Rule, bool) {
	for i := len(rules) - 1; i >= 0; i-- {
		r := rules[i]
		if daysOverdue >= r.ThresholdDays && priorSent == r.Tier {
			return r, true
		}
	}
	return Rule{}, false
}
