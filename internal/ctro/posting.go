package ctro

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/accounting"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Mapping module and keys for CTRO postings.
const (
	MappingModule           = "CTRO"
	KeyInventory            = "inventory"
	KeyAdvancesToAgents     = "advances_to_agents"
	KeyEvacuationCost       = "evacuation_cost"
	KeyEvacuationPayable    = "evacuation_payable"
	evacuationCreditAccount = "evacuation credit"
)

// AccountResolver returns the account bound to a CTRO mapping key.
type AccountResolver func(ctx context.Context, key string) (int64, error)

type posting struct {
	debit  map[int64]decimal.Decimal
	credit map[int64]decimal.Decimal
	order  []lineRef
}

type lineRef struct {
	account int64
	debit   bool
	memo    string
}

func (p *posting) add(account int64, debit bool, amount decimal.Decimal, memo string) {
	if !amount.IsPositive() {
		return
	}
	side := p.credit
	if debit {
		side = p.debit
	}
	if _, seen := side[account]; !seen {
		p.order = append(p.order, lineRef{account: account, debit: debit, memo: memo})
		side[account] = decimal.Zero
	}
	side[account] = side[account].Add(amount)
}

// PostingLines derives the journal of a CTRO from its costed lines.
//
// Every line debits inventory with its total. CompanyPaid lines debit
// evacuation cost and credit the evacuation payable control, or
// evacCreditAccountID when the document chose a cash or bank account, while
// advances take the full total. Deducted lines credit advances with the total
// less evacuation and credit evacuation cost with the evacuation.
func PostingLines(ctx context.Context, lines []CostedLine, resolve AccountResolver, evacCreditAccountID int64) ([]accounting.PostingLineInput, error) {
	var valid []CostedLine
	for i, l := range lines {
		if l.Excluded {
			continue
		}
		if l.Treatment == TreatmentDeducted && l.EvacuationValue.GreaterThan(l.LineTotal) {
			return nil, shared.Errorf(shared.KindValidation,
				"line %d: deducted evacuation %s exceeds line total %s", i+1, l.EvacuationValue.StringFixed(2), l.LineTotal.StringFixed(2))
		}
		valid = append(valid, l)
	}
	if len(valid) == 0 {
		return nil, shared.Errorf(shared.KindValidation, "CTRO has no line with a published rate")
	}
	accounts := map[string]int64{}
	account := func(key string) (int64, error) {
		if id, ok := accounts[key]; ok {
			return id, nil
		}
		var (
			id  int64
			err error
		)
		if key == evacuationCreditAccount {
			if evacCreditAccountID != 0 {
				id = evacCreditAccountID
			} else {
				id, err = resolve(ctx, KeyEvacuationPayable)
			}
		} else {
			id, err = resolve(ctx, key)
		}
		if err != nil {
			return 0, err
		}
		accounts[key] = id
		return id, nil
	}

	p := &posting{debit: map[int64]decimal.Decimal{}, credit: map[int64]decimal.Decimal{}}
	inventory, err := account(KeyInventory)
	if err != nil {
		return nil, err
	}
	advances, err := account(KeyAdvancesToAgents)
	if err != nil {
		return nil, err
	}
	for _, l := range valid {
		p.add(inventory, true, l.LineTotal, "CTRO inventory")
		evac := l.EvacuationValue
		if l.Treatment == TreatmentDeducted {
			p.add(advances, false, l.LineTotal.Sub(evac), "Advances to agents")
			if evac.IsPositive() {
				cost, err := account(KeyEvacuationCost)
				if err != nil {
					return nil, err
				}
				p.add(cost, false, evac, "Evacuation deducted from agent")
			}
			continue
		}
		p.add(advances, false, l.LineTotal, "Advances to agents")
		if evac.IsPositive() {
			cost, err := account(KeyEvacuationCost)
			if err != nil {
				return nil, err
			}
			payable, err := account(evacuationCreditAccount)
			if err != nil {
				return nil, err
			}
			p.add(cost, true, evac, "Secondary evacuation")
			p.add(payable, false, evac, "Secondary evacuation payable")
		}
	}

	out := make([]accounting.PostingLineInput, 0, len(p.order))
	for _, ref := range p.order {
		line := accounting.PostingLineInput{AccountID: ref.account, Memo: ref.memo, Debit: decimal.Zero, Credit: decimal.Zero}
		if ref.debit {
			line.Debit = p.debit[ref.account]
		} else {
			line.Credit = p.credit[ref.account]
		}
		out = append(out, line)
	}
	if len(out) < 2 {
		return nil, shared.Errorf(shared.KindValidation, "CTRO posting has %d line(s); nothing to post", len(out))
	}
	return out, nil
}

// MappingResolver adapts a ledger transaction to an AccountResolver.
func MappingResolver(tx accounting.TxRepository, companyID int64) AccountResolver {
	return func(ctx context.Context, key string) (int64, error) {
		id, err := accounting.ResolveMapping(ctx, tx, companyID, MappingModule, key)
		if err != nil {
			return 0, fmt.Errorf("ctro: %w", err)
		}
		return id, nil
	}
}
