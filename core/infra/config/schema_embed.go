package config

import "embed"

const queuesSchemaFile = "schema/queues.schema.json"

//go:embed schema/*.json
var configSchemaFS embed.FS
