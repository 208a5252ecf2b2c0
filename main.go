package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"matchlink-service/call"
	"matchlink-service/chat"
	"matchlink-service/coin"
	"matchlink-service/config"
	"matchlink-service/controller"
	"matchlink-service/database"
	"matchlink-service/event"
	"matchlink-service/event/listener"
	"matchlink-service/match"
	"matchlink-service/notify"
	"matchlink-service/presence"
	"matchlink-service/router"
	"matchlink-service/socketio"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

func main() {
	log.SetPrefix("matchlink-service: ")

	rest := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		StrictRouting:         true,
		AppName:               "matchlink-service",
	})

	rest.Use(cors.New())

	database.RedisConnect()
	database.PostgresConnect()

	event.RabbitMQConnect([]string{
		// Connect to queues
		notify.NotificationsQueue,
		"payments",
	})

	ledger := coin.NewLedger(database.Postgres)

	// Run payment confirmation listener
	go listener.Payments(ledger)

	// Subscribe listener channel to "payments" events
	event.RabbitMQSubscribe([]event.RabbitMQSubscribeListener{
		{
			Queue:   "payments",
			Channel: listener.PaymentsChannel,
		},
	})

	// Init event logs
	event.Init()

	socket := socketio.Init(rest)

	emitter := socketio.Emitter{}
	registry := presence.NewRegistry(database.Redis[0])
	notifier := notify.NewService(database.Postgres, emitter, registry)
	engine := match.NewEngine(database.Postgres, ledger, notifier)
	channel := chat.NewChannel(database.Postgres, ledger, registry, emitter, notifier)
	relay := call.NewRelay(database.Postgres, ledger, emitter)

	controller.Init(ledger, engine, channel, relay)

	router.Rest(rest)
	router.Socket(socket, router.SocketDeps{
		Registry: registry,
		Channel:  channel,
		Relay:    relay,
	})

	go rest.Listen(fmt.Sprintf(":%s", config.Config("SERVER_PORT")))

	exit := make(chan struct{})
	SignalC := make(chan os.Signal, 1)

	signal.Notify(SignalC, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		for s := range SignalC {
			switch s {
			case syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT:
				close(exit)
				return
			}
		}
	}()

	<-exit
	socket.Close(nil)
	event.RabbitMQChannel.Close()
	event.RabbitMQConnection.Close()
	event.InLogFile.Close()
	event.OutLogFile.Close()
	os.Exit(0)
}
