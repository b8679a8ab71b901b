package main

import "github.com/ValentinKolb/dFlow/cmd"

func main() {
	cmd.Execute()
}
