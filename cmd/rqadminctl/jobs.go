package main

import (
	"context"
	"fmt"
	"os"

	"github.com/cordum/rqadmin/pkg/client"
)

func runJobsCmd(args []string) {
	fs := newFlagSet("jobs")
	var ids, queues, statuses, order stringList
	fs.Var(&ids, "id", "select job ids (repeatable)")
	fs.Var(&queues, "queue", "filter by queue (repeatable)")
	fs.Var(&statuses, "status", "filter by status (repeatable)")
	fs.Var(&order, "order", "order by field, prefix with - for descending")
	limit := fs.Int("limit", 0, "page size")
	offset := fs.Int("offset", 0, "page offset")
	fs.ParseArgs(args)
	c := newClient(*fs.gateway, *fs.apiKey)
	list, err := c.ListJobs(context.Background(), client.ListOptions{
		Queues:   queues,
		Statuses: statuses,
		IDs:      ids,
		Order:    order,
		Limit:    *limit,
		Offset:   *offset,
	})
	check(err)
	printJSON(list)
}

func runJobCmd(args []string) {
	if len(args) < 1 {
		usage()
		os.Exit(1)
	}
	fs := newFlagSet("job " + args[0])
	fs.ParseArgs(args[1:])
	if fs.NArg() < 1 {
		fail("job id required")
	}
	c := newClient(*fs.gateway, *fs.apiKey)
	ctx := context.Background()

	switch args[0] {
	case "show":
		job, err := c.GetJob(ctx, fs.Arg(0))
		check(err)
		printJSON(job)
	case "requeue":
		if fs.NArg() == 1 {
			id, err := c.RequeueJob(ctx, fs.Arg(0))
			check(err)
			fmt.Println(id)
			return
		}
		res, err := c.RequeueJobs(ctx, fs.Args())
		check(err)
		printAction(os.Stdout, res)
	case "delete":
		if fs.NArg() == 1 {
			check(c.DeleteJob(ctx, fs.Arg(0)))
			return
		}
		res, err := c.DeleteJobs(ctx, fs.Args())
		check(err)
		printAction(os.Stdout, res)
	default:
		usage()
		os.Exit(1)
	}
}

func runScheduledCmd(args []string) {
	sub := "list"
	if len(args) > 0 && (args[0] == "list" || args[0] == "enqueue" || args[0] == "cancel") {
		sub, args = args[0], args[1:]
	}
	fs := newFlagSet("scheduled " + sub)
	fs.ParseArgs(args)
	c := newClient(*fs.gateway, *fs.apiKey)
	ctx := context.Background()

	switch sub {
	case "list":
		list, err := c.ListScheduled(ctx)
		check(err)
		printJSON(list)
	case "enqueue":
		if fs.NArg() < 1 {
			fail("job id required")
		}
		check(c.EnqueueScheduled(ctx, fs.Arg(0)))
	case "cancel":
		if fs.NArg() < 1 {
			fail("job id required")
		}
		check(c.CancelScheduled(ctx, fs.Arg(0)))
	}
}
