package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/sakuapp/saku/config"
	"github.com/sakuapp/saku/internal/application"
	"github.com/sakuapp/saku/pkg/mailer"
)

// The alert worker drains the overspend queue and emails users whose daily
// safe-spend hit zero. It runs separately from the API server so a slow
// Mailgun call never sits on a request path.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	if !cfg.AlertSendEnabled {
		log.Println("ALERT_SEND_ENABLED=false; alert worker disabled (no emails will be sent)")
		return
	}
	if cfg.RabbitMQURL == "" || cfg.RabbitMQAlertQueue == "" {
		log.Fatal("RabbitMQ not configured")
	}
	if cfg.MailgunDomain == "" || cfg.MailgunAPIKey == "" || cfg.MailgunSender == "" {
		log.Fatal("Mailgun not configured")
	}

	conn, err := amqp.Dial(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("amqp dial: %v", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("amqp channel: %v", err)
	}
	defer func() { _ = ch.Close() }()

	// Prefetch biar fair dispatch
	if err := ch.Qos(16, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}

	if _, err := ch.QueueDeclare(cfg.RabbitMQAlertQueue, true, false, false, false, nil); err != nil {
		log.Fatalf("queue declare: %v", err)
	}

	msgs, err := ch.Consume(cfg.RabbitMQAlertQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	mg := mailer.NewMailgun(cfg.MailgunDomain, cfg.MailgunAPIKey, cfg.MailgunSender)
	ctx := context.Background()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		for msg := range msgs {
			var job application.AlertJob
			if err := json.Unmarshal(msg.Body, &job); err != nil {
				log.Printf("bad message: %v", err)
				_ = msg.Nack(false, false)
				continue
			}
			if job.To == "" {
				_ = msg.Nack(false, false)
				continue
			}

			subject, text := renderAlert(job)
			c, cancel := context.WithTimeout(ctx, 15*time.Second)
			if err := mg.Send(c, job.To, subject, text, ""); err != nil {
				cancel()
				log.Printf("send alert to %s failed: %v", job.To, err)
				_ = msg.Nack(false, true) // requeue once; Mailgun hiccups are transient
				continue
			}
			cancel()
			_ = msg.Ack(false)
		}
		close(done)
	}()

	log.Printf("alert worker consuming %q", cfg.RabbitMQAlertQueue)
	<-stop
	log.Println("shutting down alert worker")
	_ = ch.Close()
	<-done
}

func renderAlert(job application.AlertJob) (subject, text string) {
	name := job.Name
	if name == "" {
		name = "there"
	}
	subject = "You've hit today's spending limit"
	text = fmt.Sprintf(
		"Hi %s,\n\nYou've spent %d today (%s), which uses up your safe-to-spend budget for the day. "+
			"Anything more comes out of the rest of the month.\n\n— Saku",
		name, job.SpentToday, job.Date,
	)
	return subject, text
}
