package main

import "taxonomer/cmd"

func main() {
	cmd.Execute()
}
