// Package feed publishes one kafka message per record change for downstream
// consumers (the redis bridge, analytics, history archival).
package feed

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-ledger/internal/models"
)

// Change is the wire payload, keyed by record id so one record's changes
// stay ordered within a partition.
type Change struct {
	Kind     models.Action `json:"kind"`
	RecordID int64         `json:"record_id"`
	At       time.Time     `json:"at"`
}

type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &Producer{writer: w}
}

// Announce satisfies the ledger's ChangeAnnouncer.
func (p *Producer) Announce(ctx context.Context, action models.Action, recordID int64) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, err := json.Marshal(Change{Kind: action, RecordID: recordID, At: time.Now().UTC()})
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(recordID, 10)),
		Value: b,
	})
}

func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
