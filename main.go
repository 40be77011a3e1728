package main

import (
	"github.com/galacticcouncil/gen3-unbond-fix/cmd"
)

func main() {
	cmd.Execute()
}
