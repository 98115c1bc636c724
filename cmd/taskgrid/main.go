package main

import "github.com/marcus/taskgrid/cmd/taskgrid/commands"

func main() {
	commands.Execute()
}
