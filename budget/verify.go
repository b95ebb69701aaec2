package budget

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Violation is one broken invariant found by Verify.
type Violation struct {
	Doctype string `json:"doctype"`
	Name    string `json:"name"`
	Rule    string `json:"rule"`
	Detail  string `json:"detail"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s %s: %s: %s", v.Doctype, v.Name, v.Rule, v.Detail)
}

var cent = decimal.New(1, -MoneyPlaces)

// Verify walks every budget and contract and reports invariant violations.
// An empty result means the store is consistent.
func (e *Engine) Verify(ctx context.Context) ([]Violation, error) {
	var out []Violation
	err := e.store.WithTx(ctx, func(s Store) error {
		budgets, err := s.ListBudgets(ctx, BudgetFilter{})
		if err != nil {
			return err
		}
		liveDrafts := map[string][]string{}
		for i := range budgets {
			b := &budgets[i]
			out = append(out, verifyBudget(b)...)
			if b.IsLiveDraft() {
				liveDrafts[b.Year] = append(liveDrafts[b.Year], b.Name)
			}
		}
		for year, names := range liveDrafts {
			if len(names) > 1 {
				sort.Strings(names)
				out = append(out, Violation{Doctype: "FiscalYear", Name: year, Rule: "single live draft", Detail: fmt.Sprintf("%d Live drafts: %v", len(names), names)})
			}
		}

		contracts, err := s.ListContracts(ctx, ContractFilter{})
		if err != nil {
			return err
		}
		for i := range contracts {
			c := &contracts[i]
			c.SortTerms()
			for j := 0; j+1 < len(c.Terms); j++ {
				if !c.EffectiveEnd(j).Before(c.Terms[j+1].FromDate) {
					out = append(out, Violation{Doctype: "Contract", Name: c.Name, Rule: "terms ordered", Detail: fmt.Sprintf("term %d ends %s, next starts %s", j+1, c.EffectiveEnd(j), c.Terms[j+1].FromDate)})
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Doctype != out[j].Doctype {
			return out[i].Doctype < out[j].Doctype
		}
		return out[i].Name < out[j].Name
	})
	e.log.Infow("verify finished", "violations", len(out))
	return out, nil
}

func verifyBudget(b *Budget) []Violation {
	var out []Violation
	add := func(rule, format string, args ...interface{}) {
		out = append(out, Violation{Doctype: "Budget", Name: b.Name, Rule: rule, Detail: fmt.Sprintf(format, args...)})
	}
	keys := map[string]int{}
	net := decimal.Zero
	for _, l := range b.Lines {
		if l.IsGenerated && l.SourceKey == "" {
			add("generated line keyed", "line %d has no source key", l.Idx)
		}
		if l.SourceKey != "" {
			if prev, dup := keys[l.SourceKey]; dup {
				add("unique source key", "lines %d and %d share %s", prev, l.Idx, l.SourceKey)
			}
			keys[l.SourceKey] = l.Idx
		}
		if l.AmountNet.Add(l.AmountVAT).Sub(l.AmountGross).Abs().GreaterThanOrEqual(cent) {
			add("vat split", "line %d: net %s + vat %s != gross %s", l.Idx, l.AmountNet, l.AmountVAT, l.AmountGross)
		}
		if l.AnnualNet.Add(l.AnnualVAT).Sub(l.AnnualGross).Abs().GreaterThanOrEqual(cent) {
			add("vat split", "line %d: annual net %s + vat %s != gross %s", l.Idx, l.AnnualNet, l.AnnualVAT, l.AnnualGross)
		}
		if l.Counts() {
			net = net.Add(l.AnnualNet)
		}
	}
	if !Round(net).Equal(b.Totals.Net) {
		add("totals", "total_amount_net %s, lines sum to %s", b.Totals.Net, Round(net))
	}
	return out
}
