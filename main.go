package main

import "Gin_postgres_redis_loan_manager/cli"

func main() {
	cli.Execute()
}
