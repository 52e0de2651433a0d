package main

import "github.com/platinummonkey/tenancy/cmd/tenancy/cmd"

func main() {
	cmd.Execute()
}
