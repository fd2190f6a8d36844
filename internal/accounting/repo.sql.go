package accounting

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/money"
	"github.com/odyssey-erp/backoffice/internal/periods"
	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Repository persists accounting entities.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes fn within a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("accounting repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

type txRepository struct {
	periods.TxRepository
	tx pgx.Tx
}

// NewTxRepository binds ledger queries to an open transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{TxRepository: periods.NewTxRepository(tx), tx: tx}
}

const accountColumns = `id, company_id, code, name, normal_balance, is_control, is_active, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.CompanyID, &a.Code, &a.Name, &a.NormalBalance, &a.IsControl, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (r *txRepository) GetAccounts(ctx context.Context, ids []int64) (map[int64]Account, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("accounting: get accounts: %w", err)
	}
	defer rows.Close()
	out := make(map[int64]Account, len(ids))
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("accounting: scan account: %w", err)
		}
		out[a.ID] = a
	}
	return out, rows.Err()
}

func (r *txRepository) ListAccounts(ctx context.Context, companyID int64) ([]Account, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE company_id=$1 ORDER BY code`, companyID)
	if err != nil {
		return nil, fmt.Errorf("accounting: list accounts: %w", err)
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("accounting: scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *txRepository) InsertAccount(ctx context.Context, a Account) (Account, error) {
	out, err := scanAccount(r.tx.QueryRow(ctx, `INSERT INTO accounts (company_id, code, name, normal_balance, is_control, is_active)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING `+accountColumns, a.CompanyID, a.Code, a.Name, a.NormalBalance, a.IsControl, a.IsActive))
	if err != nil {
		return Account{}, db.MapError(err, "account "+a.Code)
	}
	return out, nil
}

func (r *txRepository) UpdateAccount(ctx context.Context, a Account) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE accounts SET code=$2, name=$3, normal_balance=$4, is_control=$5, is_active=$6, updated_at=NOW() WHERE id=$1`,
		a.ID, a.Code, a.Name, a.NormalBalance, a.IsControl, a.IsActive)
	if err != nil {
		return db.MapError(err, "account "+a.Code)
	}
	if cmd.RowsAffected() == 0 {
		return shared.Errorf(shared.KindNotFound, "account %d not found", a.ID)
	}
	return nil
}

func (r *txRepository) AccountHasPostedLines(ctx context.Context, accountID int64) (bool, error) {
	var used bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM journal_lines l JOIN journal_entries e ON e.id = l.journal_id
WHERE l.account_id=$1 AND e.status IN ('POSTED','REVERSED'))`, accountID).Scan(&used)
	if err != nil {
		return false, fmt.Errorf("accounting: account usage: %w", err)
	}
	return used, nil
}

func (r *txRepository) GetAccountMapping(ctx context.Context, companyID int64, module, key string) (AccountMapping, error) {
	m := AccountMapping{CompanyID: companyID, Module: module, Key: key}
	err := r.tx.QueryRow(ctx, `SELECT account_id FROM account_mappings WHERE company_id=$1 AND module=$2 AND key=$3`, companyID, module, key).Scan(&m.AccountID)
	if err != nil {
		return AccountMapping{}, db.MapError(err, "account mapping "+module+"."+key)
	}
	return m, nil
}

func (r *txRepository) UpsertAccountMapping(ctx context.Context, m AccountMapping) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO account_mappings (company_id, module, key, account_id) VALUES ($1,$2,$3,$4)
ON CONFLICT (company_id, module, key) DO UPDATE SET account_id = EXCLUDED.account_id, updated_at = NOW()`, m.CompanyID, m.Module, m.Key, m.AccountID)
	if err != nil {
		return fmt.Errorf("accounting: upsert mapping: %w", err)
	}
	return nil
}

const journalColumns = `id, company_id, period_id, number, entry_date, narration, status, source, source_id, created_by,
approved_by, approved_at, posted_by, posted_at, reversal_of, reversed_by, created_at, updated_at`

func scanJournal(row pgx.Row) (JournalEntry, error) {
	var (
		e                            JournalEntry
		approvedBy, postedBy         pgtype.Int8
		reversalOf, reversedBy       pgtype.Int8
		approvedAt, postedAt         pgtype.Timestamptz
	)
	err := row.Scan(&e.ID, &e.CompanyID, &e.PeriodID, &e.Number, &e.Date, &e.Narration, &e.Status, &e.Source, &e.SourceID, &e.CreatedBy,
		&approvedBy, &approvedAt, &postedBy, &postedAt, &reversalOf, &reversedBy, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return JournalEntry{}, err
	}
	e.ApprovedBy = int8Ptr(approvedBy)
	e.PostedBy = int8Ptr(postedBy)
	e.ReversalOf = int8Ptr(reversalOf)
	e.ReversedBy = int8Ptr(reversedBy)
	if approvedAt.Valid {
		t := approvedAt.Time
		e.ApprovedAt = &t
	}
	if postedAt.Valid {
		t := postedAt.Time
		e.PostedAt = &t
	}
	return e, nil
}

func (r *txRepository) InsertJournalEntry(ctx context.Context, e JournalEntry) (JournalEntry, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO journal_entries (company_id, period_id, number, entry_date, narration, status, source, source_id,
created_by, approved_by, approved_at, posted_by, posted_at, reversal_of)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14) RETURNING `+journalColumns,
		e.CompanyID, e.PeriodID, e.Number, e.Date, e.Narration, e.Status, e.Source, e.SourceID,
		e.CreatedBy, e.ApprovedBy, e.ApprovedAt, e.PostedBy, e.PostedAt, e.ReversalOf)
	out, err := scanJournal(row)
	if err != nil {
		return JournalEntry{}, db.MapError(err, "journal "+e.Number)
	}
	return out, nil
}

func (r *txRepository) InsertJournalLines(ctx context.Context, journalID int64, lines []PostingLineInput) ([]JournalLine, error) {
	out := make([]JournalLine, 0, len(lines))
	for _, line := range lines {
		stored := JournalLine{JournalID: journalID, AccountID: line.AccountID, Debit: line.Debit, Credit: line.Credit, Memo: line.Memo}
		err := r.tx.QueryRow(ctx, `INSERT INTO journal_lines (journal_id, account_id, debit, credit, memo)
VALUES ($1,$2,$3::numeric,$4::numeric,$5) RETURNING id`, journalID, line.AccountID, money.Fixed(line.Debit), money.Fixed(line.Credit), line.Memo).Scan(&stored.ID)
		if err != nil {
			return nil, fmt.Errorf("accounting: insert line: %w", err)
		}
		out = append(out, stored)
	}
	return out, nil
}

func (r *txRepository) GetJournal(ctx context.Context, id int64) (JournalEntry, error) {
	return r.loadJournal(ctx, `SELECT `+journalColumns+` FROM journal_entries WHERE id=$1`, id)
}

func (r *txRepository) GetJournalForUpdate(ctx context.Context, id int64) (JournalEntry, error) {
	return r.loadJournal(ctx, `SELECT `+journalColumns+` FROM journal_entries WHERE id=$1 FOR UPDATE`, id)
}

func (r *txRepository) loadJournal(ctx context.Context, query string, id int64) (JournalEntry, error) {
	entry, err := scanJournal(r.tx.QueryRow(ctx, query, id))
	if err != nil {
		return JournalEntry{}, db.MapError(err, fmt.Sprintf("journal %d", id))
	}
	rows, err := r.tx.Query(ctx, `SELECT id, journal_id, account_id, debit::text, credit::text, memo FROM journal_lines WHERE journal_id=$1 ORDER BY id`, id)
	if err != nil {
		return JournalEntry{}, fmt.Errorf("accounting: journal lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			line          JournalLine
			debit, credit string
		)
		if err := rows.Scan(&line.ID, &line.JournalID, &line.AccountID, &debit, &credit, &line.Memo); err != nil {
			return JournalEntry{}, fmt.Errorf("accounting: scan line: %w", err)
		}
		if line.Debit, err = decimal.NewFromString(debit); err != nil {
			return JournalEntry{}, err
		}
		if line.Credit, err = decimal.NewFromString(credit); err != nil {
			return JournalEntry{}, err
		}
		entry.Lines = append(entry.Lines, line)
	}
	return entry, rows.Err()
}

func (r *txRepository) UpdateJournal(ctx context.Context, e JournalEntry) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE journal_entries SET status=$2, approved_by=$3, approved_at=$4, posted_by=$5, posted_at=$6, reversed_by=$7, updated_at=NOW() WHERE id=$1`,
		e.ID, e.Status, e.ApprovedBy, e.ApprovedAt, e.PostedBy, e.PostedAt, e.ReversedBy)
	if err != nil {
		return fmt.Errorf("accounting: update journal: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return shared.Errorf(shared.KindNotFound, "journal %d not found", e.ID)
	}
	return nil
}

func (r *txRepository) DeleteJournal(ctx context.Context, id int64) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM journal_lines WHERE journal_id=$1`, id); err != nil {
		return fmt.Errorf("accounting: delete lines: %w", err)
	}
	cmd, err := r.tx.Exec(ctx, `DELETE FROM journal_entries WHERE id=$1 AND status='DRAFT'`, id)
	if err != nil {
		return fmt.Errorf("accounting: delete journal: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return shared.Errorf(shared.KindNotFound, "draft journal %d not found", id)
	}
	return nil
}

func (r *txRepository) ListJournals(ctx context.Context, companyID, periodID int64) ([]JournalEntry, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+journalColumns+` FROM journal_entries WHERE company_id=$1 AND ($2 = 0 OR period_id=$2) ORDER BY entry_date, id`, companyID, periodID)
	if err != nil {
		return nil, fmt.Errorf("accounting: list journals: %w", err)
	}
	defer rows.Close()
	var out []JournalEntry
	for rows.Next() {
		e, err := scanJournal(rows)
		if err != nil {
			return nil, fmt.Errorf("accounting: scan journal: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *txRepository) AccountTotals(ctx context.Context, f LineFilter) ([]AccountTotal, error) {
	rows, err := r.tx.Query(ctx, `SELECT l.account_id, COALESCE(SUM(l.debit),0)::text, COALESCE(SUM(l.credit),0)::text
FROM journal_lines l JOIN journal_entries e ON e.id = l.journal_id
WHERE e.status IN ('POSTED','REVERSED')
  AND ($1 = 0 OR e.company_id=$1)
  AND ($2 = 0 OR e.period_id=$2)
  AND ($3 = 0 OR l.account_id=$3)
GROUP BY l.account_id ORDER BY l.account_id`, f.CompanyID, f.PeriodID, f.AccountID)
	if err != nil {
		return nil, fmt.Errorf("accounting: account totals: %w", err)
	}
	defer rows.Close()
	var out []AccountTotal
	for rows.Next() {
		var (
			t             AccountTotal
			debit, credit string
		)
		if err := rows.Scan(&t.AccountID, &debit, &credit); err != nil {
			return nil, fmt.Errorf("accounting: scan totals: %w", err)
		}
		t.Debit, t.Credit = decimal.RequireFromString(debit), decimal.RequireFromString(credit)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *txRepository) JournalTotals(ctx context.Context, companyID int64) ([]JournalTotal, error) {
	rows, err := r.tx.Query(ctx, `SELECT e.id, e.number, COALESCE(SUM(l.debit),0)::text, COALESCE(SUM(l.credit),0)::text
FROM journal_entries e LEFT JOIN journal_lines l ON l.journal_id = e.id
WHERE e.status IN ('POSTED','REVERSED') AND ($1 = 0 OR e.company_id=$1)
GROUP BY e.id, e.number ORDER BY e.id`, companyID)
	if err != nil {
		return nil, fmt.Errorf("accounting: journal totals: %w", err)
	}
	defer rows.Close()
	var out []JournalTotal
	for rows.Next() {
		var (
			t             JournalTotal
			debit, credit string
		)
		if err := rows.Scan(&t.JournalID, &t.Number, &debit, &credit); err != nil {
			return nil, fmt.Errorf("accounting: scan journal totals: %w", err)
		}
		t.Debit, t.Credit = decimal.RequireFromString(debit), decimal.RequireFromString(credit)
		out = append(out, t)
	}
	return out, rows.Err()
}

func int8Ptr(v pgtype.Int8) *int64 {
	if !v.Valid {
		return nil
	}
	out := v.Int64
	return &out
}
