package main

import "alertsync/internal/cli"

func main() {
	cli.Execute()
}
