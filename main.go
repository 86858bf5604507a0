package main

import "labhub/cmd"

func main() {
	cmd.Execute()
}
