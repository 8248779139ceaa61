package main

import "example.com/debitum/cmd"

func main() {
	cmd.Execute()
}
