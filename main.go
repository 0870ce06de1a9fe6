package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/koasocial/koasocial/db"
	"github.com/koasocial/koasocial/util"
	"github.com/koasocial/koasocial/web"
)

func main() {
	conf, err := util.ReadConf()
	if err != nil {
		log.Fatalln(err)
	}

	fmt.Println("Configuration: ")
	fmt.Println(util.PrettyPrint(conf))

	// Opens the database and runs migrations.
	db.GetDB()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", conf.Conf.HttpPort),
		Handler: web.NewRouter(conf),
	}

	startServing(srv, conf)
}

func startServing(srv *http.Server, conf *util.AppConfig) {
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	log.Printf("Starting server on %s:%d", conf.Conf.Host, conf.Conf.HttpPort)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalln(err)
		}
	}()

	<-done
	log.Println("Stopping server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalln(err)
	}
}
