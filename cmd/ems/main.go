package main

import "github.com/MOhammedRiaad/EMS-sub005/cmd/cli"

func main() {
	cli.Execute()
}
