package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/kawan-ai/internal/analytics"
	"github.com/suPer8Hu/kawan-ai/internal/config"
	"github.com/suPer8Hu/kawan-ai/internal/db"
	"github.com/suPer8Hu/kawan-ai/internal/logx"
	"github.com/suPer8Hu/kawan-ai/internal/store/rabbitmq"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	log := logx.Must(cfg.IsProduction())
	defer func() { _ = log.Sync() }()

	if cfg.RabbitURL == "" {
		log.Fatal("RABBIT_URL is required for the worker")
	}

	gdb, err := db.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatal("db open", zap.Error(err))
	}
	if err := db.Migrate(gdb, &analytics.CharacterStat{}); err != nil {
		log.Fatal("db migrate", zap.Error(err))
	}
	store := analytics.NewStore(gdb)
	acc := analytics.NewAccumulator()

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatal("rabbit dial", zap.Error(err))
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatal("rabbit channel", zap.Error(err))
	}
	defer ch.Close()

	if err := rabbitmq.Declare(ch, cfg.RabbitQueue); err != nil {
		log.Fatal("queue declare", zap.Error(err))
	}

	//  strict concurrency control
	concurrency := cfg.WorkerConcurrency
	if err := ch.Qos(concurrency*4, 0, false); err != nil {
		log.Fatal("qos", zap.Error(err))
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatal("consume", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("worker started",
		zap.String("queue", cfg.RabbitQueue),
		zap.Int("concurrency", concurrency),
		zap.Duration("flush_every", cfg.StatsFlushEvery),
	)

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				ev, err := rabbitmq.Decode(d.Body)
				if err != nil || ev.CharacterID == 0 {
					log.Warn("bad turn event", zap.Int("worker", workerID), zap.String("message_id", d.MessageId), zap.Error(err))
					_ = d.Nack(false, false)
					continue
				}
				acc.Record(ev)
				if err := d.Ack(false); err != nil {
					log.Warn("ack failed", zap.Int("worker", workerID), zap.String("event_id", ev.ID), zap.Error(err))
				}
			}
		}(i)
	}

	flush := func() {
		deltas := acc.Drain()
		if len(deltas) == 0 {
			return
		}
		fctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		start := time.Now()
		if err := store.Flush(fctx, deltas); err != nil {
			log.Error("stats flush failed, will retry", zap.Int("characters", len(deltas)), zap.Error(err))
			acc.Merge(deltas)
			return
		}
		log.Info("stats flushed", zap.Int("characters", len(deltas)), zap.Duration("cost", time.Since(start)))
	}

	ticker := time.NewTicker(cfg.StatsFlushEvery)
	defer ticker.Stop()

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			close(jobs)
			wg.Wait()
			flush()
			return

		case <-ticker.C:
			flush()

		case d, ok := <-msgs:
			if !ok {
				log.Warn("delivery channel closed")
				close(jobs)
				wg.Wait()
				flush()
				return
			}
			jobs <- d
		}
	}
}
