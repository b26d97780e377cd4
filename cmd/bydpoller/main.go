package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/jkaberg/hass-byd-vehicle/cmd/bydpoller/app"
)

func main() {
	app.NewApp().Run()
}
