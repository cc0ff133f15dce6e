package main

import "onebridge/cmd"

func main() {
	cmd.Execute()
}
