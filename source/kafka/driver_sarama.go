// Package kafka provides the bounded Kafka source: a snapshot of every
// partition's high-water mark is taken at read start, and each
// partition is consumed up to that snapshot, no further. One dataset
// partition per Kafka partition.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"weft/internal/element"
	"weft/internal/logging"
	"weft/source"
)

type SaramaDriver struct {
	cfg Config
	cl  sarama.Client
}

func (d *SaramaDriver) Configure(configPath string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	d.cfg = cfg

	ver, err := sarama.ParseKafkaVersion(cfg.Version)
	if err != nil {
		return err
	}
	sc := sarama.NewConfig()
	sc.Version = ver
	sc.Consumer.Return.Errors = true
	if cfg.TLSEn {
		sc.Net.TLS.Enable = true
	}
	if cfg.SASLUser != "" {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User, sc.Net.SASL.Password = cfg.SASLUser, cfg.SASLPass
	}

	d.cl, err = sarama.NewClient(cfg.Brokers, sc)
	return err
}

func (d *SaramaDriver) Read(ctx context.Context) ([][]element.Windowed, error) {
	consumer, err := sarama.NewConsumerFromClient(d.cl)
	if err != nil {
		return nil, err
	}
	defer consumer.Close()

	partitions, err := consumer.Partitions(d.cfg.Topic)
	if err != nil {
		return nil, fmt.Errorf("kafka-source: partitions of %s: %w", d.cfg.Topic, err)
	}

	out := make([][]element.Windowed, len(partitions))
	for i, p := range partitions {
		elems, err := d.readPartition(ctx, consumer, p)
		if err != nil {
			return nil, err
		}
		out[i] = elems
	}
	return out, nil
}

func (d *SaramaDriver) readPartition(ctx context.Context, consumer sarama.Consumer, p int32) ([]element.Windowed, error) {
	newest, err := d.cl.GetOffset(d.cfg.Topic, p, sarama.OffsetNewest)
	if err != nil {
		return nil, err
	}
	oldest, err := d.cl.GetOffset(d.cfg.Topic, p, sarama.OffsetOldest)
	if err != nil {
		return nil, err
	}

	start := oldest
	if d.cfg.StartFrom == "newest" {
		start = newest
	}
	if start >= newest {
		return nil, nil
	}

	pc, err := consumer.ConsumePartition(d.cfg.Topic, p, start)
	if err != nil {
		return nil, fmt.Errorf("kafka-source: consume %s/%d: %w", d.cfg.Topic, p, err)
	}
	defer pc.Close()

	deadline := time.NewTimer(d.cfg.FetchTimeout)
	defer deadline.Stop()

	var elems []element.Windowed
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("kafka-source: %s/%d: timed out %d short of high-water mark",
				d.cfg.Topic, p, newest-start-int64(len(elems)))
		case err := <-pc.Errors():
			return nil, err
		case msg := <-pc.Messages():
			elems = append(elems, toElement(msg))
			if msg.Offset >= newest-1 {
				logging.L().Debug("kafka-source: partition drained",
					"topic", d.cfg.Topic, "partition", p, "count", len(elems))
				return elems, nil
			}
		}
	}
}

// toElement decodes JSON payloads when possible, otherwise carries the
// raw bytes as a string. Record timestamps become event times.
func toElement(msg *sarama.ConsumerMessage) element.Windowed {
	var v any
	if err := json.Unmarshal(msg.Value, &v); err != nil {
		v = string(msg.Value)
	}
	return element.Windowed{Value: v, EventTime: msg.Timestamp, Window: element.GlobalWindow}
}

func (d *SaramaDriver) Close() error {
	if d.cl != nil {
		return d.cl.Close()
	}
	return nil
}

func init() {
	source.Register("kafka", func() source.Adapter { return &SaramaDriver{} })
}
