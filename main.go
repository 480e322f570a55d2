package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gomphos/gomphos/activitypub"
	"github.com/gomphos/gomphos/db"
	"github.com/gomphos/gomphos/redisx"
	"github.com/gomphos/gomphos/stream"
	"github.com/gomphos/gomphos/trends"
	"github.com/gomphos/gomphos/util"
	"github.com/gomphos/gomphos/web"
)

const trendsRefreshInterval = 10 * time.Minute

func main() {

	conf, err := util.ReadConf()
	if err != nil {
		log.Fatalln(err)
	}

	fmt.Println("Configuration: ")
	fmt.Println(util.PrettyPrint(conf))

	database, err := db.Open(conf.Conf.DatabasePath)
	if err != nil {
		log.Fatalln(err)
	}
	defer database.Close()

	redisClient, err := redisx.NewClient(conf)
	if err != nil {
		log.Fatalln(err)
	}

	locks := redisx.NewLockService(redisClient)
	queue := redisx.NewQueue(redisClient)
	sets := redisx.NewRankedSets(redisClient, "trends")
	failures := redisx.NewFailureTracker(redisClient)

	events := stream.NewPublisher(conf)
	defer events.Close()

	resolver := activitypub.NewResolver(database, locks, queue, conf)
	outbox := activitypub.NewOutbox(database, conf)
	updater := activitypub.NewStatusUpdater(database, locks, queue, resolver, events)
	processor := activitypub.NewProcessor(database, conf, resolver, updater, outbox, queue, events)
	distributor := activitypub.NewDistributor(database, locks, outbox, events)
	workers := activitypub.NewWorkers(database, resolver, updater, distributor)
	deliveries := activitypub.NewDeliveryWorker(database, failures)
	engine := trends.NewEngine(database, sets, conf)

	queue.Register(activitypub.JobDistribute, func(ctx context.Context, job redisx.Job) error {
		return workers.Distribute(ctx, job.Args)
	})
	queue.Register(activitypub.JobAccountPurge, func(ctx context.Context, job redisx.Job) error {
		return workers.PurgeAccount(ctx, job.Args)
	})
	queue.Register(activitypub.JobLinkCrawl, func(ctx context.Context, job redisx.Job) error {
		return workers.CrawlLinks(ctx, job.Args)
	})
	queue.Register(activitypub.JobPollExpiry, func(ctx context.Context, job redisx.Job) error {
		return workers.ExpirePoll(ctx, job.Args)
	})
	queue.Register(activitypub.JobKeywordFilter, func(ctx context.Context, job redisx.Job) error {
		return workers.ApplyKeywordMutes(ctx, job.Args)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go queue.Start(ctx)
	go deliveries.Start(ctx)
	go engine.StartRefreshLoop(ctx, trendsRefreshInterval)

	server := web.NewServer(database, conf, resolver, processor, outbox, engine)
	go func() {
		if err := server.Run(); err != nil {
			log.Fatalln(err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down..")
}
