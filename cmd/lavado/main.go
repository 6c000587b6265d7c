/*
main.go - Application entry point

PURPOSE:
  The lavado binary runs payroll penalty batches, serves the batch API and
  manages the database.

COMMANDS:
  serve     HTTP API plus the monthly scheduler
  run       One batch run: lavado run --company ACME --start 2022-10-01 --end 2022-10-31
  migrate   Apply (or --rollback) schema migrations
  seed      Load a YAML fixture: lavado seed --file fixtures/acme.yml

CONFIGURATION:
  config.yml in the working directory or --config-dir, overridden by LAVADO_*
  environment variables. See config/config.go for keys and defaults.

SEE ALSO:
  - api/server.go: Router configuration
  - batch/orchestrator.go: Batch runs
  - store/sqlite/sqlite.go: Database implementation
*/
package main

func main() {
	Execute()
}
