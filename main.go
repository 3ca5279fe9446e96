package main

import (
	"github.com/getevo/evo/v2"
	"github.com/getevo/evo/v2/lib/application"

	"github.com/lydiehq/lydie-sub003/apps/integrations"
	"github.com/lydiehq/lydie-sub003/apps/models"
	"github.com/lydiehq/lydie-sub003/apps/nats"
	"github.com/lydiehq/lydie-sub003/apps/redis"
)

func main() {
	evo.Setup()

	var apps = application.GetInstance()
	apps.Register(models.App{}, nats.App{}, redis.App{}, &integrations.App{})

	evo.Run()
}
