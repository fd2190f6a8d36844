package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/subcommands"

	"github.com/odyssey-erp/backoffice/internal/money"
	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/backoffice/internal/rbac"
	"github.com/odyssey-erp/backoffice/internal/reconcile"
)

// apiClient reads reports from a running backoffice server.
type apiClient struct {
	base    string
	http    *http.Client
	actorID int64
	roles   string
}

func newAPIClient() *apiClient {
	return &apiClient{
		base:    *serverURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		actorID: *actorID,
		roles:   *roles,
	}
}

func (c *apiClient) get(ctx context.Context, company int64, path string, query url.Values, out any) error {
	u := strings.TrimRight(c.base, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(rbac.HeaderActorID, strconv.FormatInt(c.actorID, 10))
	req.Header.Set(rbac.HeaderCompanyID, strconv.FormatInt(company, 10))
	req.Header.Set(rbac.HeaderRoles, c.roles)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var problem httpx.ProblemDetail
		if err := json.NewDecoder(resp.Body).Decode(&problem); err == nil && problem.Title != "" {
			if problem.Detail != "" {
				return fmt.Errorf("%s: %s: %s", resp.Status, problem.Title, problem.Detail)
			}
			return fmt.Errorf("%s: %s", resp.Status, problem.Title)
		}
		return fmt.Errorf("GET %s: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) statement(ctx context.Context, company, party int64) (reconcile.Statement, error) {
	var st reconcile.Statement
	q := url.Values{"party": {strconv.FormatInt(party, 10)}}
	err := c.get(ctx, company, "/reports/statement", q, &st)
	return st, err
}

func (c *apiClient) aging(ctx context.Context, company, party int64, side, asOf string) (reconcile.Aging, error) {
	var out reconcile.Aging
	q := url.Values{}
	if party != 0 {
		q.Set("party", strconv.FormatInt(party, 10))
	} else {
		q.Set("side", side)
	}
	if asOf != "" {
		q.Set("as_of", asOf)
	}
	err := c.get(ctx, company, "/reports/aging", q, &out)
	return out, err
}

func printStatement(out io.Writer, st reconcile.Statement, currency string) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(out, "Statement for party %d (company %d)\n", st.PartyID, st.CompanyID)
	fmt.Fprintln(w, "DATE\tDOC NO\tDESCRIPTION\tDEBIT\tCREDIT\tBALANCE\t")
	for _, row := range st.Rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t\n",
			row.Date.Format(time.DateOnly), row.DocNo, row.Description,
			money.Format(row.Debit, currency), money.Format(row.Credit, currency),
			money.Format(row.RunningBalance, currency))
	}
	fmt.Fprintf(w, "\t\tClosing balance\t\t\t%s\t\n", money.Format(st.ClosingBalance, currency))
	return w.Flush()
}

func printAging(out io.Writer, a reconcile.Aging, currency string) error {
	scope := fmt.Sprintf("party %d", a.PartyID)
	if a.PartyID == 0 {
		scope = string(a.Side)
	}
	fmt.Fprintf(out, "Aging for %s as of %s (company %d)\n", scope, a.AsOf.Format(time.DateOnly), a.CompanyID)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "BUCKET\tOUTSTANDING\t")
	for _, name := range reconcile.BucketNames {
		fmt.Fprintf(w, "%s\t%s\t\n", name, money.Format(a.Buckets[name], currency))
	}
	fmt.Fprintf(w, "Total\t%s\t\n", money.Format(a.Total, currency))
	return w.Flush()
}

type statementCmd struct {
	company int64
	party   int64
}

func (*statementCmd) Name() string     { return "statement" }
func (*statementCmd) Synopsis() string { return "Print a party statement with running balance." }
func (*statementCmd) Usage() string {
	return `statement -company <id> -party <id>:
  Print every posted document of the party in date order.
`
}

func (c *statementCmd) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&c.company, "company", 1, "Company id")
	f.Int64Var(&c.party, "party", 0, "Customer or supplier id")
}

func (c *statementCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.party <= 0 {
		fmt.Fprintln(os.Stderr, "statement requires -party")
		return subcommands.ExitUsageError
	}
	st, err := newAPIClient().statement(ctx, c.company, c.party)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	if err := printStatement(os.Stdout, st, *currency); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

type agingCmd struct {
	company int64
	party   int64
	side    string
	asOf    string
}

func (*agingCmd) Name() string     { return "aging" }
func (*agingCmd) Synopsis() string { return "Print outstanding balances by age bucket." }
func (*agingCmd) Usage() string {
	return `aging -company <id> [-party <id> | -side AR|AP] [-as-of YYYY-MM-DD]:
  Bucket open documents by days past due.
`
}

func (c *agingCmd) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&c.company, "company", 1, "Company id")
	f.Int64Var(&c.party, "party", 0, "Customer or supplier id")
	f.StringVar(&c.side, "side", "AR", "Subledger when no party is given")
	f.StringVar(&c.asOf, "as-of", "", "Aging date (default today)")
}

func (c *agingCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.asOf != "" {
		if _, err := time.Parse(time.DateOnly, c.asOf); err != nil {
			fmt.Fprintln(os.Stderr, "-as-of must be YYYY-MM-DD")
			return subcommands.ExitUsageError
		}
	}
	if _, ok := reconcile.ParseSide(c.side); c.party == 0 && !ok {
		fmt.Fprintln(os.Stderr, "-side must be AR or AP")
		return subcommands.ExitUsageError
	}
	a, err := newAPIClient().aging(ctx, c.company, c.party, c.side, c.asOf)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	if err := printAging(os.Stdout, a, *currency); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
