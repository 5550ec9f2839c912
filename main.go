package main

import (
	"log"

	"style-analysis/cmd"
	_ "style-analysis/migrations"
)

func main() {
	if err := cmd.Start(); err != nil {
		log.Fatal(err)
	}
}
