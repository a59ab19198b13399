package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/carthingy/carthingy/cmd/carthingy/app"
)

func main() {
	app.NewApp().Run()
}
