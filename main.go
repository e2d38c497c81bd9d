package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/sahapasci/pgloader/internal/server"
	"github.com/sahapasci/pgloader/internal/websocket"
)

func main() {
	cmd := &cli.Command{
		Name:  "pgloader",
		Usage: "materialize a database catalog into PostgreSQL",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Value:   ":8081",
				Usage:   "HTTP listen address",
				Sources: cli.EnvVars("ADDR"),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			hub := websocket.NewHub()
			srv := server.New(hub)

			addr := cmd.String("addr")
			log.Printf("listening on %s", addr)
			return http.ListenAndServe(addr, srv.Routes())
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
