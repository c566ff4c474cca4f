package main

import (
	"log"

	"github.com/cordum/rqadmin/core/gateway"
	"github.com/cordum/rqadmin/core/infra/buildinfo"
	"github.com/cordum/rqadmin/core/infra/config"
	"github.com/cordum/rqadmin/core/infra/logging"
)

func main() {
	if err := config.LoadEnvFile(); err != nil {
		log.Fatalf("rqadmin gateway config: %v", err)
	}
	buildinfo.Log("rqadmin-gateway")
	cfg := config.Load()
	if err := gateway.Run(cfg); err != nil {
		logging.Error("rqadmin-gateway", "gateway exited", "error", err)
		logging.Sync()
		log.Fatalf("rqadmin gateway error: %v", err)
	}
}
