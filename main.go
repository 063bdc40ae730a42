package main

import "github.com/Daskott/kontacts/cmd"

func main() {
	cmd.Execute()
}
