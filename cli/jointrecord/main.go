// Package main is the jointrecord command.
package main

import (
	"log"
	"os"

	"go.viam.com/jointrecord/cli"
)

func main() {
	app := cli.NewApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
