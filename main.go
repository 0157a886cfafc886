package main

import "github.com/satriahrh/gemini-chat/cmd"

func main() {
	cmd.Execute()
}
