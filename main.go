package main

import "github.com/andresmejia3/faced/cmd"

func main() {
	cmd.Execute()
}
