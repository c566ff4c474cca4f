package main

import (
	"context"
	"os"

	"github.com/cordum/rqadmin/pkg/client"
)

func runQueuesCmd(args []string) {
	fs := newFlagSet("queues")
	var order stringList
	fs.Var(&order, "order", "order by field, prefix with - for descending")
	fs.ParseArgs(args)
	c := newClient(*fs.gateway, *fs.apiKey)
	list, err := c.ListQueues(context.Background(), client.ListOptions{Order: order})
	check(err)
	printJSON(list)
}

func runQueueCmd(args []string) {
	if len(args) < 1 {
		usage()
		os.Exit(1)
	}
	switch args[0] {
	case "show":
		fs := newFlagSet("queue show")
		fs.ParseArgs(args[1:])
		if fs.NArg() < 1 {
			fail("queue name required")
		}
		c := newClient(*fs.gateway, *fs.apiKey)
		q, err := c.GetQueue(context.Background(), fs.Arg(0))
		check(err)
		printJSON(q)
	case "clear":
		fs := newFlagSet("queue clear")
		fs.ParseArgs(args[1:])
		if fs.NArg() < 1 {
			fail("queue name required")
		}
		c := newClient(*fs.gateway, *fs.apiKey)
		var (
			res *client.ActionResult
			err error
		)
		if fs.NArg() == 1 {
			res, err = c.ClearQueue(context.Background(), fs.Arg(0))
		} else {
			res, err = c.ClearQueues(context.Background(), fs.Args())
		}
		check(err)
		printAction(os.Stdout, res)
	default:
		usage()
		os.Exit(1)
	}
}

func runWorkersCmd(args []string) {
	fs := newFlagSet("workers")
	var queues, order stringList
	fs.Var(&queues, "queue", "only workers listening on this queue (repeatable)")
	fs.Var(&order, "order", "order by field, prefix with - for descending")
	fs.ParseArgs(args)
	c := newClient(*fs.gateway, *fs.apiKey)
	list, err := c.ListWorkers(context.Background(), client.ListOptions{Queues: queues, Order: order})
	check(err)
	printJSON(list)
}

func runStatusCmd(args []string) {
	fs := newFlagSet("status")
	fs.ParseArgs(args)
	c := newClient(*fs.gateway, *fs.apiKey)
	status, err := c.GetStatus(context.Background())
	check(err)
	printJSON(status)
}
