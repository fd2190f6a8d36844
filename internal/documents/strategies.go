package documents

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/accounting"
	"github.com/odyssey-erp/backoffice/internal/ctro"
	"github.com/odyssey-erp/backoffice/internal/money"
	"github.com/odyssey-erp/backoffice/internal/numbering"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// CtroCoster prices CTRO lines against the rate card effective on a date.
type CtroCoster interface {
	CostLines(ctx context.Context, companyID int64, date time.Time, inputs []ctro.LineInput) ([]ctro.CostedLine, ctro.Totals, error)
}

// Costing recomputes the derived totals of a document.
type Costing interface {
	Cost(ctx context.Context, doc *Document) error
}

// AccountMapping turns a costed document into journal lines.
type AccountMapping interface {
	JournalLines(ctx context.Context, tx accounting.TxRepository, doc Document) ([]accounting.PostingLineInput, error)
}

// TypeSpec bundles the behaviour of one document type.
type TypeSpec struct {
	Type    DocType
	Prefix  string
	Costing Costing
	Mapping AccountMapping
	// SettlesType is the document type a settlement allocates against.
	SettlesType DocType
	// Side is the reconciliation side the document feeds.
	Side string
}

// IsSettlement reports whether the type allocates against other documents.
func (t TypeSpec) IsSettlement() bool { return t.SettlesType != "" }

// Registry resolves type specs.
type Registry map[DocType]TypeSpec

// DefaultRegistry wires the five document types. coster may be nil when CTRO
// documents are not used.
func DefaultRegistry(coster CtroCoster) Registry {
	return Registry{
		TypeInvoice: {
			Type: TypeInvoice, Prefix: numbering.PrefixInvoice, Side: ModuleAR,
			Costing: lineCosting{}, Mapping: invoiceMapping{},
		},
		TypeBill: {
			Type: TypeBill, Prefix: numbering.PrefixBill, Side: ModuleAP,
			Costing: lineCosting{}, Mapping: billMapping{},
		},
		TypeReceipt: {
			Type: TypeReceipt, Prefix: numbering.PrefixReceipt, Side: ModuleAR, SettlesType: TypeInvoice,
			Costing: settlementCosting{}, Mapping: receiptMapping{},
		},
		TypePaymentVoucher: {
			Type: TypePaymentVoucher, Prefix: numbering.PrefixPaymentVoucher, Side: ModuleAP, SettlesType: TypeBill,
			Costing: settlementCosting{}, Mapping: voucherMapping{},
		},
		TypeCTRO: {
			Type: TypeCTRO, Prefix: numbering.PrefixCTRO,
			Costing: ctroCosting{engine: coster}, Mapping: ctroMapping{},
		},
	}
}

// Lookup returns the spec of t.
func (r Registry) Lookup(t DocType) (TypeSpec, error) {
	spec, ok := r[t]
	if !ok {
		return TypeSpec{}, shared.Errorf(shared.KindValidation, "unsupported document type %q", t)
	}
	return spec, nil
}

type lineCosting struct{}

func (lineCosting) Cost(_ context.Context, doc *Document) error {
	if len(doc.Lines) == 0 {
		return shared.Errorf(shared.KindValidation, "%s requires at least one line", doc.Type.Label())
	}
	subtotal := decimal.Zero
	for i := range doc.Lines {
		l := &doc.Lines[i]
		if l.AccountID == 0 {
			return shared.Errorf(shared.KindValidation, "line %d missing account", i+1)
		}
		if !l.Quantity.IsPositive() {
			return shared.Errorf(shared.KindValidation, "line %d quantity must be positive", i+1)
		}
		if l.UnitPrice.IsNegative() {
			return shared.Errorf(shared.KindValidation, "line %d unit price cannot be negative", i+1)
		}
		l.Amount = money.Round2(l.Quantity.Mul(l.UnitPrice))
		subtotal = subtotal.Add(l.Amount)
	}
	if !subtotal.IsPositive() {
		return shared.Errorf(shared.KindValidation, "%s total must be positive", doc.Type.Label())
	}
	doc.Totals = Totals{Subtotal: subtotal, Withholding: decimal.Zero, Total: subtotal}
	return nil
}

type settlementCosting struct{}

func (settlementCosting) Cost(_ context.Context, doc *Document) error {
	s := doc.Settlement
	if !s.Amount.IsPositive() {
		return shared.Errorf(shared.KindValidation, "%s amount must be positive", doc.Type.Label())
	}
	if s.Withholding.IsNegative() {
		return shared.Errorf(shared.KindValidation, "withholding cannot be negative")
	}
	if s.CashAccountID == 0 {
		return shared.Errorf(shared.KindValidation, "cash or bank account required")
	}
	if len(doc.Allocations) == 0 {
		return shared.Errorf(shared.KindValidation, "%s requires at least one allocation", doc.Type.Label())
	}
	allocated := decimal.Zero
	seen := make(map[int64]bool, len(doc.Allocations))
	for i, a := range doc.Allocations {
		if a.TargetID == 0 {
			return shared.Errorf(shared.KindValidation, "allocation %d missing target", i+1)
		}
		if seen[a.TargetID] {
			return shared.Errorf(shared.KindValidation, "document %d is allocated more than once", a.TargetID)
		}
		seen[a.TargetID] = true
		if !a.Amount.IsPositive() {
			return shared.Errorf(shared.KindValidation, "allocation %d must be positive", i+1)
		}
		allocated = allocated.Add(a.Amount)
	}
	if !allocated.Equal(s.Total()) {
		return shared.Errorf(shared.KindAllocationMismatch, "allocations total %s but amount plus withholding is %s",
			money.Fixed(allocated), money.Fixed(s.Total()))
	}
	doc.Totals = Totals{Subtotal: s.Amount, Withholding: s.Withholding, Total: s.Total()}
	return nil
}

type ctroCosting struct {
	engine CtroCoster
}

func (c ctroCosting) Cost(ctx context.Context, doc *Document) error {
	if c.engine == nil {
		return shared.Errorf(shared.KindValidation, "CTRO costing is not configured")
	}
	inputs := make([]ctro.LineInput, 0, len(doc.CtroLines))
	for _, l := range doc.CtroLines {
		inputs = append(inputs, l.LineInput)
	}
	lines, totals, err := c.engine.CostLines(ctx, doc.CompanyID, doc.DocDate, inputs)
	if err != nil {
		return err
	}
	doc.CtroLines = lines
	doc.Totals = Totals{Subtotal: totals.LineTotal, Withholding: decimal.Zero, Total: totals.LineTotal, Ctro: &totals}
	return nil
}

type invoiceMapping struct{}

func (invoiceMapping) JournalLines(ctx context.Context, tx accounting.TxRepository, doc Document) ([]accounting.PostingLineInput, error) {
	control, err := accounting.ResolveMapping(ctx, tx, doc.CompanyID, ModuleAR, KeyControl)
	if err != nil {
		return nil, err
	}
	out := []accounting.PostingLineInput{{AccountID: control, Debit: doc.Totals.Total, Credit: decimal.Zero, Memo: doc.DocNo}}
	for _, l := range groupLines(doc.Lines) {
		out = append(out, accounting.PostingLineInput{AccountID: l.AccountID, Debit: decimal.Zero, Credit: l.Amount, Memo: l.Description})
	}
	return out, nil
}

type billMapping struct{}

func (billMapping) JournalLines(ctx context.Context, tx accounting.TxRepository, doc Document) ([]accounting.PostingLineInput, error) {
	control, err := accounting.ResolveMapping(ctx, tx, doc.CompanyID, ModuleAP, KeyControl)
	if err != nil {
		return nil, err
	}
	var out []accounting.PostingLineInput
	for _, l := range groupLines(doc.Lines) {
		out = append(out, accounting.PostingLineInput{AccountID: l.AccountID, Debit: l.Amount, Credit: decimal.Zero, Memo: l.Description})
	}
	return append(out, accounting.PostingLineInput{AccountID: control, Debit: decimal.Zero, Credit: doc.Totals.Total, Memo: doc.DocNo}), nil
}

type receiptMapping struct{}

func (receiptMapping) JournalLines(ctx context.Context, tx accounting.TxRepository, doc Document) ([]accounting.PostingLineInput, error) {
	control, err := accounting.ResolveMapping(ctx, tx, doc.CompanyID, ModuleAR, KeyControl)
	if err != nil {
		return nil, err
	}
	s := doc.Settlement
	out := []accounting.PostingLineInput{{AccountID: s.CashAccountID, Debit: s.Amount, Credit: decimal.Zero, Memo: doc.DocNo}}
	if s.Withholding.IsPositive() {
		wht, err := accounting.ResolveMapping(ctx, tx, doc.CompanyID, ModuleAR, KeyWithholdingReceivable)
		if err != nil {
			return nil, err
		}
		out = append(out, accounting.PostingLineInput{AccountID: wht, Debit: s.Withholding, Credit: decimal.Zero, Memo: "withholding"})
	}
	return append(out, accounting.PostingLineInput{AccountID: control, Debit: decimal.Zero, Credit: s.Total(), Memo: doc.DocNo}), nil
}

type voucherMapping struct{}

func (voucherMapping) JournalLines(ctx context.Context, tx accounting.TxRepository, doc Document) ([]accounting.PostingLineInput, error) {
	control, err := accounting.ResolveMapping(ctx, tx, doc.CompanyID, ModuleAP, KeyControl)
	if err != nil {
		return nil, err
	}
	s := doc.Settlement
	out := []accounting.PostingLineInput{
		{AccountID: control, Debit: s.Total(), Credit: decimal.Zero, Memo: doc.DocNo},
		{AccountID: s.CashAccountID, Debit: decimal.Zero, Credit: s.Amount, Memo: doc.DocNo},
	}
	if s.Withholding.IsPositive() {
		wht, err := accounting.ResolveMapping(ctx, tx, doc.CompanyID, ModuleAP, KeyWithholdingPayable)
		if err != nil {
			return nil, err
		}
		out = append(out, accounting.PostingLineInput{AccountID: wht, Debit: decimal.Zero, Credit: s.Withholding, Memo: "withholding"})
	}
	return out, nil
}

type ctroMapping struct{}

func (ctroMapping) JournalLines(ctx context.Context, tx accounting.TxRepository, doc Document) ([]accounting.PostingLineInput, error) {
	return ctro.PostingLines(ctx, doc.CtroLines, ctro.MappingResolver(tx, doc.CompanyID), doc.EvacuationAccountID)
}

// groupLines sums amounts per account, ordered by first appearance.
func groupLines(lines []Line) []Line {
	idx := make(map[int64]int, len(lines))
	var out []Line
	for _, l := range lines {
		if i, ok := idx[l.AccountID]; ok {
			out[i].Amount = out[i].Amount.Add(l.Amount)
			continue
		}
		idx[l.AccountID] = len(out)
		out = append(out, Line{AccountID: l.AccountID, Description: l.Description, Amount: l.Amount})
	}
	return out
}
