package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/google/subcommands"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/backoffice/jobs"
)

// jobAliases maps short names to task types.
var jobAliases = map[string]string{
	"reconcile":    jobs.TaskLedgerReconcile,
	"gl_integrity": jobs.TaskGLIntegrity,
	"integrity":    jobs.TaskGLIntegrity,
}

func taskType(name string) (string, error) {
	name = strings.TrimSpace(name)
	if t, ok := jobAliases[name]; ok {
		return t, nil
	}
	switch name {
	case jobs.TaskLedgerReconcile, jobs.TaskGLIntegrity:
		return name, nil
	}
	return "", fmt.Errorf("unknown job %q", name)
}

func parseCompanies(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid company id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func redisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: *redisAddr, Password: os.Getenv("REDIS_PASSWORD")}
}

type triggerCmd struct {
	companies string
}

func (*triggerCmd) Name() string     { return "trigger" }
func (*triggerCmd) Synopsis() string { return "Enqueue a ledger job now." }
func (*triggerCmd) Usage() string {
	return `trigger [-companies 1,2] <reconcile|gl_integrity>:
  Enqueue a reconciliation or GL integrity run. Without -companies the worker
  uses its configured companies.
`
}

func (c *triggerCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.companies, "companies", "", "Comma separated company ids")
}

func (c *triggerCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "trigger requires exactly one job name")
		return subcommands.ExitUsageError
	}
	kind, err := taskType(f.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	ids, err := parseCompanies(c.companies)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}

	client := jobs.NewClient(redisOpt())
	defer client.Close()
	info, err := client.Enqueue(ctx, kind, ids...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "enqueue %s: %v\n", kind, err)
		return subcommands.ExitFailure
	}
	fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	return subcommands.ExitSuccess
}

type queueCmd struct{}

func (*queueCmd) Name() string     { return "queue" }
func (*queueCmd) Synopsis() string { return "Show the job queue depth." }
func (*queueCmd) Usage() string {
	return `queue:
  Print pending, active, scheduled, retry and failed counts of the default queue.
`
}
func (*queueCmd) SetFlags(*flag.FlagSet) {}

func (*queueCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	inspector := asynq.NewInspector(redisOpt())
	defer inspector.Close()
	info, err := inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		fmt.Fprintf(os.Stderr, "inspect queue: %v\n", err)
		return subcommands.ExitFailure
	}
	if err := printQueue(os.Stdout, info); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func printQueue(out io.Writer, info *asynq.QueueInfo) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "QUEUE\tPENDING\tACTIVE\tSCHEDULED\tRETRY\tFAILED")
	fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\n", info.Queue, info.Pending, info.Active, info.Scheduled, info.Retry, info.Failed)
	return w.Flush()
}
