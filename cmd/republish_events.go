package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/psds-microservice/support-chat/internal/database"
	"github.com/psds-microservice/support-chat/internal/kafka"
	"github.com/psds-microservice/support-chat/internal/service"
)

const republishPage = 200

var republishEventsCmd = &cobra.Command{
	Use:   "republish-events",
	Short: "Re-emit ticket.updated for every ticket to Kafka (rebuilds downstream consumers)",
	RunE:  runRepublishEvents,
}

func runRepublishEvents(cmd *cobra.Command, args []string) error {
	cfg, log, err := migrateSetup()
	if err != nil {
		return err
	}
	defer log.Sync()
	if len(cfg.KafkaBrokers) == 0 || cfg.KafkaTopicTicket == "" {
		return errors.New("republish-events: KAFKA_BROKERS and KAFKA_TOPIC_TICKET must be set")
	}
	db, err := database.Open(cfg.DSN(), false)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	svc := service.NewSupportService(db)
	producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopicTicket, log)
	defer producer.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
	defer cancel()

	sent := 0
	for offset := 0; ; offset += republishPage {
		tickets, total, err := svc.ListTickets(ctx, republishPage, offset)
		if err != nil {
			return fmt.Errorf("list tickets: %w", err)
		}
		for i := range tickets {
			producer.ProduceTicketEvent(ctx, kafka.NewTicketEvent(kafka.EventTicketUpdated, &tickets[i]))
		}
		sent += len(tickets)
		log.Info("republish-events: progress", zap.Int("sent", sent), zap.Int64("total", total))
		if len(tickets) < republishPage {
			break
		}
	}
	log.Info("republish-events: done", zap.Int("sent", sent), zap.String("topic", cfg.KafkaTopicTicket))
	return nil
}
