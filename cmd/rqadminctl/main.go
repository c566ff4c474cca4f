package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cordum/rqadmin/pkg/client"
)

const defaultGateway = "http://localhost:8081"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "queues":
		runQueuesCmd(args)
	case "queue":
		runQueueCmd(args)
	case "workers":
		runWorkersCmd(args)
	case "jobs":
		runJobsCmd(args)
	case "job":
		runJobCmd(args)
	case "scheduled":
		runScheduledCmd(args)
	case "status":
		runStatusCmd(args)
	default:
		usage()
		os.Exit(1)
	}
}

type flagSet struct {
	*flag.FlagSet
	gateway *string
	apiKey  *string
}

func newFlagSet(name string) *flagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	gateway := fs.String("gateway", envOr("RQADMIN_GATEWAY", defaultGateway), "gateway base url")
	apiKey := fs.String("api-key", envOr("RQADMIN_API_KEY", ""), "api key")
	return &flagSet{FlagSet: fs, gateway: gateway, apiKey: apiKey}
}

func (fs *flagSet) ParseArgs(args []string) {
	if err := fs.Parse(args); err != nil {
		fail(err.Error())
	}
}

// stringList is a repeatable flag that also splits commas.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*s = append(*s, part)
		}
	}
	return nil
}

func newClient(gateway, apiKey string) *client.Client {
	return client.New(strings.TrimRight(gateway, "/"), apiKey)
}

func printJSON(value any) {
	data, err := json.MarshalIndent(value, "", "  ")
	check(err)
	fmt.Println(string(data))
}

func usage() {
	fmt.Print(`rqadminctl - RQ admin CLI

Usage:
  rqadminctl status
  rqadminctl queues [--order field]
  rqadminctl queue show <name>
  rqadminctl queue clear <name>...
  rqadminctl workers [--queue q]... [--order field]
  rqadminctl jobs [--queue q]... [--status s]... [--order field] [--limit n] [--offset n]
  rqadminctl job show <job_id>
  rqadminctl job requeue <job_id>...
  rqadminctl job delete <job_id>...
  rqadminctl scheduled [list]
  rqadminctl scheduled enqueue <job_id>
  rqadminctl scheduled cancel <job_id>

Flags:
  --gateway   gateway base url (env RQADMIN_GATEWAY)
  --api-key   api key (env RQADMIN_API_KEY)
`)
}

func envOr(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

// printAction prints a bulk result, naming objects skipped because another
// gateway was acting on them.
func printAction(w io.Writer, res *client.ActionResult) {
	fmt.Fprintln(w, res.Message)
	if len(res.Busy) > 0 {
		fmt.Fprintf(w, "Skipped (in progress elsewhere): %s\n", strings.Join(res.Busy, ", "))
	}
}

func check(err error) {
	if err != nil {
		fail(err.Error())
	}
}

func fail(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
