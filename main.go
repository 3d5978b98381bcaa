package main

import "github.com/kozaktomas/tether/cmd"

func main() {
	cmd.Execute()
}
