package main

import "github.com/bryanchriswhite/snapdesk/cmd/snapdesk/commands"

func main() {
	commands.Execute()
}
