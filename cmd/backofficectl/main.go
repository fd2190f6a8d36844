// Command backofficectl drives background jobs and prints party reports.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/google/subcommands"
)

var (
	redisAddr = flag.String("redis", envOr("REDIS_ADDR", "localhost:6379"), "Redis address used by the job queue")
	serverURL = flag.String("server", envOr("BACKOFFICE_URL", "http://localhost:8080"), "Base URL of the backoffice API")
	actorID   = flag.Int64("actor", 1, "Actor id sent with each request")
	roles     = flag.String("roles", "AUDITOR", "Comma separated roles sent with each request")
	currency  = flag.String("currency", "", "Currency used to display amounts (default GHS)")
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")

	commander.Register(&triggerCmd{}, "jobs")
	commander.Register(&queueCmd{}, "jobs")

	commander.Register(&statementCmd{}, "reports")
	commander.Register(&agingCmd{}, "reports")

	flag.Parse()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	code := commander.Execute(ctx)
	stop()
	os.Exit(int(code))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
