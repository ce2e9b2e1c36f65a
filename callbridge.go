package main

import (
	"flag"
	"fmt"

	"github.com/unclewu3242592726/CosTalk/callbridge/internal/config"
	"github.com/unclewu3242592726/CosTalk/callbridge/internal/handler"
	"github.com/unclewu3242592726/CosTalk/callbridge/internal/svc"

	"github.com/zeromicro/go-zero/core/conf"
	"github.com/zeromicro/go-zero/rest"
)

var configFile = flag.String("f", "etc/callbridge.yaml", "the config file")

func main() {
	flag.Parse()

	var c config.Config
	conf.MustLoad(*configFile, &c, conf.UseEnv())

	server := rest.MustNewServer(c.RestConf)
	defer server.Stop()

	ctx := svc.NewServiceContext(c)
	handler.RegisterHandlers(server, ctx)

	fmt.Printf("Starting server at %s:%d...\n", c.Host, c.Port)
	server.Start()
}
