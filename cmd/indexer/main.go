package main

import "github.com/jc4p/mint-exchange-sub001/internal/cli"

func main() {
	cli.Execute()
}
