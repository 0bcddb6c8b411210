package main

import "github.com/clawdbot/pagerbridge/cmd"

func main() {
	cmd.Execute()
}
