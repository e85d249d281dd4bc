package main

import "github.com/andresmejia3/lookout/cmd"

func main() {
	cmd.Execute()
}
