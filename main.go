package main

import (
	"github.com/luiz158/backup.sh/cmd"
	"github.com/luiz158/backup.sh/cmd/util"
)

func main() {
	defer util.HandlePanic()
	cmd.Execute()
}
