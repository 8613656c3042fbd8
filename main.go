package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dilshat/wa-broadcast/channel"
	"github.com/dilshat/wa-broadcast/config"
	"github.com/dilshat/wa-broadcast/controller"
	"github.com/dilshat/wa-broadcast/dao"
	"github.com/dilshat/wa-broadcast/dispatch"
	_ "github.com/dilshat/wa-broadcast/docs"
	"github.com/dilshat/wa-broadcast/log"
	"github.com/dilshat/wa-broadcast/progress"
	"github.com/dilshat/wa-broadcast/scheduler"
	"github.com/dilshat/wa-broadcast/service"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	echoSwagger "github.com/swaggo/echo-swagger"
	"go.uber.org/zap"
)

// @title WhatsApp broadcast HTTP API
// @description Broadcast messages to contacts over WhatsApp and follow delivery progress

// @contact.name Dilshat Aliev
// @contact.email dilshat.aliev@gmail.com

const publisherCapacity = 16

func init() {
	//missing .env is fine, the environment may be set directly
	_ = godotenv.Load()
}

func main() {
	//default logger until the configured one is built
	if _, err := log.Init("info", false); err != nil {
		panic(err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Invalid configuration", err)
	}

	logger, err := log.Init(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatal("Error creating logger", err)
	}
	defer logger.Sync()

	//create db client
	dbClient, err := dao.GetClient(cfg.Server.DbPath)
	if err != nil {
		log.Fatal("Error opening db", err)
	}
	defer dbClient.Close()

	broadcastDao := dao.NewBroadcastDao(dbClient)
	recipientDao := dao.NewRecipientDao(dbClient)
	contactDao := dao.NewContactDao(dbClient)

	//progress fan-out, optionally backed by redis
	var store progress.SnapshotStore
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		store = progress.NewRedisStore(rdb, cfg.Redis.TTL)
	}
	publisher := progress.NewPublisher(publisherCapacity, store)
	defer publisher.Close()

	var smppChannel *channel.SmppChannel
	var ch channel.Channel
	switch cfg.Channel {
	case config.ChannelWhatsApp:
		ch = channel.NewWhatsAppChannel(cfg.WhatsApp.ApiUrl, cfg.WhatsApp.PhoneId, cfg.WhatsApp.Token, cfg.WhatsApp.Tps)
	case config.ChannelSmpp:
		smppChannel = channel.NewSmppChannel(cfg.Smpp.Ip, cfg.Smpp.Port, cfg.Smpp.Account, cfg.Smpp.Password,
			cfg.Smpp.Sender, cfg.Smpp.EnqLnkSec, cfg.Smpp.TrxPerSec, cfg.Smpp.SubmitTimeout)
		ch = smppChannel
	default:
		ch = channel.NewLogChannel()
	}

	dispatcher := dispatch.NewDispatcher(broadcastDao, recipientDao, ch, publisher, dispatch.Config{
		Workers:       cfg.Dispatch.Workers,
		Retries:       cfg.Dispatch.Retries,
		Backoff:       cfg.Dispatch.Backoff,
		ProgressEvery: cfg.Dispatch.ProgressEvery,
		MessageMaxLen: cfg.Dispatch.MessageMaxLen,
	})

	broadcastService := service.NewService(broadcastDao, recipientDao, contactDao, dispatcher, publisher,
		cfg.Dispatch.MessageMaxLen, cfg.Server.PhoneMask)

	//start smpp transceiver
	if smppChannel != nil {
		smppChannel.BindReceiptHandler(broadcastService.HandleReceipt)
		if err = smppChannel.Start(); err != nil {
			log.Fatal("Error connecting to SMSC", err)
		}
		defer smppChannel.Stop()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched := scheduler.NewScheduler(broadcastDao, recipientDao, dispatcher, cfg.Scheduler.Spec, cfg.Scheduler.StatusStoreDays)
	if err = sched.Start(ctx); err != nil {
		log.Fatal("Error starting scheduler", err)
	}

	//attach http handlers
	e := echo.New()
	e.GET("/swagger/*", echoSwagger.WrapHandler)
	e.HideBanner = true
	e.Use(middleware.BodyLimit("64K"))
	e.Use(middleware.Recover())

	bindRoutes(e, broadcastService, publisher)
	if cfg.Channel == config.ChannelWhatsApp {
		bindWebhookRoutes(e, broadcastService, cfg.WhatsApp)
	}

	//start http server
	go func() {
		if err := e.Start(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Http server failed", err)
		}
	}()

	<-ctx.Done()
	zap.L().Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.ErrIfErr("Error shutting down http server", e.Shutdown(shutdownCtx))

	//no new runs past this point, then let the started ones finish before the deferred closes
	sched.Stop()
	sched.Wait()
	dispatcher.Wait()
	zap.L().Info("Dispatch runs finished")
}

func bindRoutes(e *echo.Echo, srv service.Service, publisher *progress.Publisher) {

	e.POST("/broadcasts", controller.GetCreateBroadcastFunc(srv))
	e.GET("/broadcasts", controller.GetListBroadcastsFunc(srv))
	e.GET("/broadcasts/:id", controller.GetBroadcastFunc(srv))
	e.DELETE("/broadcasts/:id", controller.GetDeleteBroadcastFunc(srv))
	e.POST("/broadcasts/:id/send", controller.GetSendBroadcastFunc(srv))
	e.POST("/broadcasts/:id/retry", controller.GetRetryBroadcastFunc(srv))
	e.GET("/broadcasts/:id/progress", controller.GetProgressFunc(srv))

	e.POST("/contacts", controller.GetCreateContactFunc(srv))
	e.GET("/contacts", controller.GetListContactsFunc(srv))
	e.PUT("/contacts/:id/status", controller.GetSetContactStatusFunc(srv))

	e.GET("/ws/progress", controller.GetProgressSocketFunc(srv, publisher))
}

func bindWebhookRoutes(e *echo.Echo, srv service.Service, wa config.WhatsAppConfig) {
	e.GET("/webhooks/whatsapp", controller.GetWhatsAppVerifyFunc(wa.VerifyToken))
	e.POST("/webhooks/whatsapp", controller.GetWhatsAppWebhookFunc(srv, wa.AppSecret))
}
