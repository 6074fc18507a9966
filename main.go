package main

import "github.com/dlforge/xfer/cmd"

func main() {
	cmd.Execute()
}
