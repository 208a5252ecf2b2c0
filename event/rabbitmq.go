package event

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"matchlink-service/config"

	amqp "github.com/rabbitmq/amqp091-go"
)

// EventChannelData is one consumed event handed to a listener goroutine.
type EventChannelData struct {
	Action string
	Data   []byte
	Out    EventChannelOutData
}

// EventChannelOutData controls whether a replayed event is re-sent and
// re-logged.
type EventChannelOutData struct {
	Send bool
	Log  bool
}

type RabbitMQSubscribeListener struct {
	Queue   string
	Channel chan EventChannelData
}

// EventLogData is one line of the append-only event log. The in/out logs
// allow replaying consumed or published events after an incident.
type EventLogData struct {
	Time    int64  `json:"time"`
	Service string `json:"service"`
	Action  string `json:"action"`
	Data    string `json:"data"`
}

const (
	actionHeader = "x-action"
	inLogPath    = "log/in.log"
	outLogPath   = "log/out.log"
)

var (
	RabbitMQConnection *amqp.Connection
	RabbitMQChannel    *amqp.Channel
	RabbitMQQueue      = make(map[string]amqp.Queue)
	RabbitMQListeners  = make(map[string]chan EventChannelData)

	InLogFile  *os.File
	OutLogFile *os.File
)

// RabbitMQConnect dials the broker, declares the given queues (payments in,
// notifications out) and opens the event log files.
func RabbitMQConnect(queues []string) {
	var err error
	RabbitMQConnection, err = amqp.Dial(fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		config.Config("RABBITMQ_USER"),
		config.Config("RABBITMQ_PASSWORD"),
		config.Config("RABBITMQ_HOST"),
		config.Config("RABBITMQ_PORT"),
	))
	if err != nil {
		panic("failed to connect to RabbitMQ")
	}
	log.Printf("connection opened to RabbitMQ server")

	RabbitMQChannel, err = RabbitMQConnection.Channel()
	if err != nil {
		panic("failed to open a RabbitMQ channel")
	}

	for _, name := range queues {
		queue, err := RabbitMQChannel.QueueDeclare(
			name,
			false, // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,
		)
		if err != nil {
			panic("failed to declare a RabbitMQ queue")
		}

		RabbitMQQueue[name] = queue
		log.Printf("declared RabbitMQ queue: %s", name)
	}

	InLogFile, err = os.OpenFile(inLogPath, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0600)
	if err != nil {
		panic(err)
	}
	OutLogFile, err = os.OpenFile(outLogPath, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0600)
	if err != nil {
		panic(err)
	}
}

// RabbitMQSubscribe starts one consumer goroutine per queue, forwarding
// decoded events to the listener channel. Messages are acked after the in-log
// write so a replay can recover anything consumed but not yet processed.
func RabbitMQSubscribe(queues []RabbitMQSubscribeListener) {
	for _, queue := range queues {
		RabbitMQListeners[queue.Queue] = queue.Channel

		msgs, err := RabbitMQChannel.Consume(
			queue.Queue,
			"",    // consumer
			false, // auto-ack
			false, // exclusive
			false, // no-local
			false, // no-wait
			nil,
		)
		if err != nil {
			panic("failed to register a consumer")
		}
		log.Printf("subscribed to RabbitMQ [%s] queue", queue.Queue)

		go func(queue RabbitMQSubscribeListener) {
			for msg := range msgs {
				action, _ := msg.Headers[actionHeader].(string)

				if config.Config("EVENT_MODE") != "DISABLE" {
					InLog(EventLogData{
						Time:    time.Now().UnixMicro(),
						Service: queue.Queue,
						Action:  action,
						Data:    string(msg.Body),
					})
				}

				msg.Ack(false)

				queue.Channel <- EventChannelData{
					Action: action,
					Data:   msg.Body,
					Out: EventChannelOutData{
						Send: true,
						Log:  true,
					},
				}
			}
		}(queue)
	}
}

// Emit publishes one event to a queue with the action carried in a header.
// Publish failures are returned, not fatal; callers on fire-and-forget paths
// decide whether to log or retry.
func Emit(service string, action string, data []byte, logged bool) error {
	if RabbitMQChannel == nil {
		return fmt.Errorf("publish to [%s]: broker not connected", service)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := RabbitMQChannel.PublishWithContext(
		ctx,
		"",      // exchange
		service, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Headers: amqp.Table{
				actionHeader: action,
			},
			Body: data,
		},
	)
	if err != nil {
		return fmt.Errorf("publish to [%s]: %w", service, err)
	}

	if logged && config.Config("EVENT_MODE") != "DISABLE" {
		OutLog(EventLogData{
			Time:    time.Now().UnixMicro(),
			Service: service,
			Action:  action,
			Data:    string(data),
		})
	}
	return nil
}

func InLog(data EventLogData) {
	line, _ := json.Marshal(data)
	if _, err := InLogFile.WriteString(string(line) + "\n"); err != nil {
		panic(err)
	}
}

func OutLog(data EventLogData) {
	line, _ := json.Marshal(data)
	if _, err := OutLogFile.WriteString(string(line) + "\n"); err != nil {
		panic(err)
	}
}

// Init replays the event logs according to EVENT_MODE. IN* modes re-feed
// consumed events to the listeners; OUT re-publishes everything this service
// emitted.
func Init() {
	switch config.Config("EVENT_MODE") {
	case "IN_SEND_LOG":
		InitIn(EventChannelOutData{Send: true, Log: true})
	case "IN_SEND":
		InitIn(EventChannelOutData{Send: true, Log: false})
	case "IN":
		InitIn(EventChannelOutData{Send: false, Log: false})
	case "OUT":
		InitOut()
	}
}

func InitIn(out EventChannelOutData) {
	replayLog(inLogPath, func(data EventLogData) {
		listener, ok := RabbitMQListeners[data.Service]
		if !ok {
			log.Printf("no listener for replayed [%s] event, skipping", data.Service)
			return
		}
		listener <- EventChannelData{
			Action: data.Action,
			Data:   []byte(data.Data),
			Out:    out,
		}
	})
}

func InitOut() {
	replayLog(outLogPath, func(data EventLogData) {
		if err := Emit(data.Service, data.Action, []byte(data.Data), false); err != nil {
			log.Fatalf("replaying out-log event failed: %v", err)
		}
	})
}

func replayLog(path string, handle func(EventLogData)) {
	file, err := os.Open(path)
	if err != nil {
		log.Fatalf("failed opening file: %s", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		data := EventLogData{}
		if err := json.Unmarshal(scanner.Bytes(), &data); err != nil {
			continue
		}
		handle(data)
	}
	if err := scanner.Err(); err != nil {
		log.Fatal(err)
	}
}
