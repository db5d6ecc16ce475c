package main

import "github.com/davarch/ci-admission/cmd/ci-admission/cli"

func main() {
	cli.Execute()
}
