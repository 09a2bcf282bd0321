package broadcaster

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"netbuf/infra/reportstore"
	"netbuf/tracker"

	"github.com/IBM/sarama"
	"github.com/cockroachdb/errors"
	"github.com/golang/glog"
)

// Publisher delivers one encoded report.
type Publisher interface {
	Publish(ctx context.Context, key, value []byte) error
	Close() error
}

// Message is what goes on the wire for each persisted report.
type Message struct {
	V       int            `json:"v"`
	Seq     uint64         `json:"seq"`
	Host    string         `json:"host,omitempty"`
	Report  tracker.Report `json:"report"`
	Leaks   int            `json:"leaks"`
	BySite  map[string]int `json:"by_site,omitempty"`
	Created time.Time      `json:"created"`
}

type Config struct {
	Interval time.Duration
	// Cursor names the store cursor that remembers the last published
	// sequence across restarts.
	Cursor string
	Host   string
}

// Broadcaster publishes reports from the store that are newer than the
// last one it delivered.
type Broadcaster struct {
	cfg   Config
	store *reportstore.Store
	pub   Publisher

	// mu serializes publish passes and guards last.
	mu   sync.Mutex
	last uint64
}

func New(store *reportstore.Store, pub Publisher, cfg Config) (*Broadcaster, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Cursor == "" {
		cfg.Cursor = "broadcaster"
	}
	last, err := store.Cursor(cfg.Cursor)
	if err != nil {
		return nil, err
	}
	return &Broadcaster{cfg: cfg, store: store, pub: pub, last: last}, nil
}

// Run publishes on every tick until ctx ends.
func (b *Broadcaster) Run(ctx context.Context) {
	glog.Infof("[broadcaster] started after seq %d", b.Last())
	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			glog.Infof("[broadcaster] stopped at seq %d", b.Last())
			return
		case <-ticker.C:
			if _, err := b.PublishPending(ctx); err != nil {
				glog.Warningf("[broadcaster] %v", err)
			}
		}
	}
}

// PublishPending sends every report newer than the last published one,
// in order, stopping at the first failure so it is retried next time.
func (b *Broadcaster) PublishPending(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sent := 0
	err := b.store.Scan(b.last, func(seq uint64, r tracker.Report) error {
		value, err := json.Marshal(Message{
			V:       1,
			Seq:     seq,
			Host:    b.cfg.Host,
			Report:  r,
			Leaks:   len(r.Live),
			BySite:  r.BySite(),
			Created: r.Time,
		})
		if err != nil {
			return errors.Wrapf(err, "encode report %d", seq)
		}
		if err := b.pub.Publish(ctx, []byte(strconv.FormatUint(seq, 10)), value); err != nil {
			return errors.Wrapf(err, "publish report %d", seq)
		}
		b.last = seq
		sent++
		return nil
	})
	if sent > 0 {
		if cerr := b.store.SetCursor(b.cfg.Cursor, b.last); cerr != nil && err == nil {
			err = cerr
		}
	}
	return sent, err
}

// Last returns the sequence of the last published report.
func (b *Broadcaster) Last() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

func (b *Broadcaster) Close() error {
	return b.pub.Close()
}

// SaramaPublisher is a Publisher over a sarama sync producer.
type SaramaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewSaramaPublisher(brokers []string, topic string) (*SaramaPublisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "sarama producer")
	}
	return WrapSyncProducer(producer, topic), nil
}

// WrapSyncProducer adapts an existing producer.
func WrapSyncProducer(p sarama.SyncProducer, topic string) *SaramaPublisher {
	return &SaramaPublisher{producer: p, topic: topic}
}

func (p *SaramaPublisher) Publish(_ context.Context, key, value []byte) error {
	_, _, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.ByteEncoder(key),
		Value: sarama.ByteEncoder(value),
	})
	return err
}

func (p *SaramaPublisher) Close() error {
	return p.producer.Close()
}
