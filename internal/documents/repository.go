package documents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/accounting"
	"github.com/odyssey-erp/backoffice/internal/ctro"
	"github.com/odyssey-erp/backoffice/internal/money"
	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Repository persists documents in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes fn within a repeatable-read transaction shared with the ledger.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("documents repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx, ledger: accounting.NewTxRepository(tx)})
	})
}

type txRepository struct {
	tx     pgx.Tx
	ledger accounting.TxRepository
}

func (r *txRepository) Ledger() accounting.TxRepository { return r.ledger }

const documentColumns = `id, company_id, period_id, doc_type, doc_no, doc_date, due_date, party_id, status, narration,
created_by, submitted_by, submitted_at, posted_by, posted_at, closed_by, closed_at, close_reason,
journal_id, reversal_journal_id, settlement_amount::text, withholding::text, cash_account_id, evacuation_account_id,
subtotal::text, total::text, ctro_lines, ctro_totals, created_at, updated_at`

func scanDocument(row pgx.Row) (Document, error) {
	var (
		d                                    Document
		submittedBy, postedBy, closedBy      pgtype.Int8
		submittedAt, postedAt, closedAt      pgtype.Timestamptz
		journalID, reversalID                pgtype.Int8
		amount, withholding, subtotal, total string
		ctroLines, ctroTotals                []byte
	)
	err := row.Scan(&d.ID, &d.CompanyID, &d.PeriodID, &d.Type, &d.DocNo, &d.DocDate, &d.DueDate, &d.PartyID, &d.Status, &d.Narration,
		&d.CreatedBy, &submittedBy, &submittedAt, &postedBy, &postedAt, &closedBy, &closedAt, &d.CloseReason,
		&journalID, &reversalID, &amount, &withholding, &d.Settlement.CashAccountID, &d.EvacuationAccountID,
		&subtotal, &total, &ctroLines, &ctroTotals, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return Document{}, err
	}
	d.SubmittedBy, d.PostedBy, d.ClosedBy = int8Ptr(submittedBy), int8Ptr(postedBy), int8Ptr(closedBy)
	d.SubmittedAt, d.PostedAt, d.ClosedAt = timePtr(submittedAt), timePtr(postedAt), timePtr(closedAt)
	d.JournalID, d.ReversalJournalID = int8Ptr(journalID), int8Ptr(reversalID)
	d.Settlement.Amount = decimal.RequireFromString(amount)
	d.Settlement.Withholding = decimal.RequireFromString(withholding)
	d.Totals = Totals{Subtotal: decimal.RequireFromString(subtotal), Withholding: d.Settlement.Withholding, Total: decimal.RequireFromString(total)}
	if len(ctroLines) > 0 {
		if err := json.Unmarshal(ctroLines, &d.CtroLines); err != nil {
			return Document{}, fmt.Errorf("documents: decode ctro lines: %w", err)
		}
	}
	if len(ctroTotals) > 0 {
		var t ctro.Totals
		if err := json.Unmarshal(ctroTotals, &t); err != nil {
			return Document{}, fmt.Errorf("documents: decode ctro totals: %w", err)
		}
		d.Totals.Ctro = &t
	}
	return d, nil
}

func ctroColumns(doc Document) ([]byte, []byte, error) {
	if doc.Type != TypeCTRO {
		return nil, nil, nil
	}
	lines, err := json.Marshal(doc.CtroLines)
	if err != nil {
		return nil, nil, fmt.Errorf("documents: encode ctro lines: %w", err)
	}
	var totals []byte
	if doc.Totals.Ctro != nil {
		if totals, err = json.Marshal(doc.Totals.Ctro); err != nil {
			return nil, nil, fmt.Errorf("documents: encode ctro totals: %w", err)
		}
	}
	return lines, totals, nil
}

func (r *txRepository) InsertDocument(ctx context.Context, doc Document) (Document, error) {
	lines, totals, err := ctroColumns(doc)
	if err != nil {
		return Document{}, err
	}
	row := r.tx.QueryRow(ctx, `INSERT INTO documents (company_id, period_id, doc_type, doc_no, doc_date, due_date, party_id, status, narration,
created_by, settlement_amount, withholding, cash_account_id, evacuation_account_id, subtotal, total, ctro_lines, ctro_totals)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11::numeric,$12::numeric,$13,$14,$15::numeric,$16::numeric,$17,$18)
RETURNING `+documentColumns,
		doc.CompanyID, doc.PeriodID, doc.Type, doc.DocNo, doc.DocDate, doc.DueDate, doc.PartyID, doc.Status, doc.Narration,
		doc.CreatedBy, money.Fixed(doc.Settlement.Amount), money.Fixed(doc.Settlement.Withholding), doc.Settlement.CashAccountID,
		doc.EvacuationAccountID, money.Fixed(doc.Totals.Subtotal), money.Fixed(doc.Totals.Total), lines, totals)
	stored, err := scanDocument(row)
	if err != nil {
		return Document{}, db.MapError(err, "document "+doc.DocNo)
	}
	if err := r.writeChildren(ctx, stored.ID, doc); err != nil {
		return Document{}, err
	}
	return r.GetDocument(ctx, stored.ID)
}

func (r *txRepository) UpdateDocument(ctx context.Context, doc Document) error {
	lines, totals, err := ctroColumns(doc)
	if err != nil {
		return err
	}
	cmd, err := r.tx.Exec(ctx, `UPDATE documents SET period_id=$2, doc_date=$3, due_date=$4, party_id=$5, status=$6, narration=$7,
submitted_by=$8, submitted_at=$9, posted_by=$10, posted_at=$11, closed_by=$12, closed_at=$13, close_reason=$14,
journal_id=$15, reversal_journal_id=$16, settlement_amount=$17::numeric, withholding=$18::numeric, cash_account_id=$19,
evacuation_account_id=$20, subtotal=$21::numeric, total=$22::numeric, ctro_lines=$23, ctro_totals=$24, updated_at=NOW()
WHERE id=$1`,
		doc.ID, doc.PeriodID, doc.DocDate, doc.DueDate, doc.PartyID, doc.Status, doc.Narration,
		doc.SubmittedBy, doc.SubmittedAt, doc.PostedBy, doc.PostedAt, doc.ClosedBy, doc.ClosedAt, doc.CloseReason,
		doc.JournalID, doc.ReversalJournalID, money.Fixed(doc.Settlement.Amount), money.Fixed(doc.Settlement.Withholding),
		doc.Settlement.CashAccountID, doc.EvacuationAccountID, money.Fixed(doc.Totals.Subtotal), money.Fixed(doc.Totals.Total), lines, totals)
	if err != nil {
		return fmt.Errorf("documents: update document: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return shared.Errorf(shared.KindNotFound, "document %d not found", doc.ID)
	}
	if _, err := r.tx.Exec(ctx, `DELETE FROM document_lines WHERE document_id=$1`, doc.ID); err != nil {
		return fmt.Errorf("documents: clear lines: %w", err)
	}
	if _, err := r.tx.Exec(ctx, `DELETE FROM allocations WHERE document_id=$1`, doc.ID); err != nil {
		return fmt.Errorf("documents: clear allocations: %w", err)
	}
	return r.writeChildren(ctx, doc.ID, doc)
}

func (r *txRepository) writeChildren(ctx context.Context, id int64, doc Document) error {
	for i, l := range doc.Lines {
		_, err := r.tx.Exec(ctx, `INSERT INTO document_lines (document_id, line_no, account_id, description, quantity, unit_price, amount)
VALUES ($1,$2,$3,$4,$5::numeric,$6::numeric,$7::numeric)`, id, i+1, l.AccountID, l.Description, l.Quantity.String(), l.UnitPrice.String(), money.Fixed(l.Amount))
		if err != nil {
			return fmt.Errorf("documents: insert line: %w", err)
		}
	}
	for _, a := range doc.Allocations {
		_, err := r.tx.Exec(ctx, `INSERT INTO allocations (document_id, target_id, amount) VALUES ($1,$2,$3::numeric)`, id, a.TargetID, money.Fixed(a.Amount))
		if err != nil {
			return db.MapError(err, fmt.Sprintf("allocation to %d", a.TargetID))
		}
	}
	return nil
}

func (r *txRepository) GetDocument(ctx context.Context, id int64) (Document, error) {
	return r.load(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1`, id)
}

func (r *txRepository) GetDocumentForUpdate(ctx context.Context, id int64) (Document, error) {
	return r.load(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1 FOR UPDATE`, id)
}

func (r *txRepository) load(ctx context.Context, query string, id int64) (Document, error) {
	doc, err := scanDocument(r.tx.QueryRow(ctx, query, id))
	if err != nil {
		return Document{}, db.MapError(err, fmt.Sprintf("document %d", id))
	}
	if err := r.loadChildren(ctx, &doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (r *txRepository) loadChildren(ctx context.Context, doc *Document) error {
	rows, err := r.tx.Query(ctx, `SELECT id, account_id, description, quantity::text, unit_price::text, amount::text
FROM document_lines WHERE document_id=$1 ORDER BY line_no`, doc.ID)
	if err != nil {
		return fmt.Errorf("documents: lines: %w", err)
	}
	defer rows.Close()
	doc.Lines = nil
	for rows.Next() {
		var (
			l                  Line
			qty, price, amount string
		)
		if err := rows.Scan(&l.ID, &l.AccountID, &l.Description, &qty, &price, &amount); err != nil {
			return fmt.Errorf("documents: scan line: %w", err)
		}
		l.Quantity, l.UnitPrice, l.Amount = decimal.RequireFromString(qty), decimal.RequireFromString(price), decimal.RequireFromString(amount)
		doc.Lines = append(doc.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	arows, err := r.tx.Query(ctx, `SELECT a.id, a.target_id, t.doc_no, a.amount::text
FROM allocations a JOIN documents t ON t.id = a.target_id WHERE a.document_id=$1 ORDER BY a.id`, doc.ID)
	if err != nil {
		return fmt.Errorf("documents: allocations: %w", err)
	}
	defer arows.Close()
	doc.Allocations = nil
	for arows.Next() {
		var (
			a      Allocation
			amount string
		)
		if err := arows.Scan(&a.ID, &a.TargetID, &a.TargetDocNo, &amount); err != nil {
			return fmt.Errorf("documents: scan allocation: %w", err)
		}
		a.Amount = decimal.RequireFromString(amount)
		doc.Allocations = append(doc.Allocations, a)
	}
	return arows.Err()
}

func (r *txRepository) DeleteDocument(ctx context.Context, id int64) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM document_lines WHERE document_id=$1`, id); err != nil {
		return fmt.Errorf("documents: delete lines: %w", err)
	}
	if _, err := r.tx.Exec(ctx, `DELETE FROM allocations WHERE document_id=$1`, id); err != nil {
		return fmt.Errorf("documents: delete allocations: %w", err)
	}
	cmd, err := r.tx.Exec(ctx, `DELETE FROM documents WHERE id=$1 AND status='DRAFT'`, id)
	if err != nil {
		return fmt.Errorf("documents: delete document: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return shared.Errorf(shared.KindNotFound, "draft document %d not found", id)
	}
	return nil
}

func (r *txRepository) ListDocuments(ctx context.Context, f ListFilter) ([]Document, error) {
	types := make([]string, 0, len(f.Types))
	for _, t := range f.Types {
		types = append(types, string(t))
	}
	statuses := make([]string, 0, len(f.Statuses))
	for _, s := range f.Statuses {
		statuses = append(statuses, string(s))
	}
	rows, err := r.tx.Query(ctx, `SELECT `+documentColumns+` FROM documents
WHERE ($1 = 0 OR company_id=$1)
  AND ($2 = 0 OR party_id=$2)
  AND (cardinality($3::text[]) = 0 OR doc_type = ANY($3))
  AND (cardinality($4::text[]) = 0 OR status = ANY($4))
ORDER BY doc_date, doc_no`, f.CompanyID, f.PartyID, types, statuses)
	if err != nil {
		return nil, fmt.Errorf("documents: list: %w", err)
	}
	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("documents: scan document: %w", err)
		}
		docs = append(docs, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range docs {
		if err := r.loadChildren(ctx, &docs[i]); err != nil {
			return nil, err
		}
	}
	return docs, nil
}

func (r *txRepository) AllocatedTo(ctx context.Context, targetID int64) (decimal.Decimal, error) {
	var total string
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(a.amount),0)::text FROM allocations a JOIN documents s ON s.id = a.document_id
WHERE a.target_id=$1 AND s.status='POSTED'`, targetID).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("documents: allocated: %w", err)
	}
	return decimal.RequireFromString(total), nil
}

func int8Ptr(v pgtype.Int8) *int64 {
	if !v.Valid {
		return nil
	}
	out := v.Int64
	return &out
}

func timePtr(v pgtype.Timestamptz) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
