package main

import (
	"log"

	"coins-bot/bot"
	"coins-bot/config"
	"coins-bot/logger"
	"coins-bot/store"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	zlog, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer zlog.Sync()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		zlog.Fatal("open store", zap.Error(err))
	}
	defer st.Close()

	b, err := bot.NewBot(cfg.BotToken, st, zlog)
	if err != nil {
		zlog.Fatal("init bot", zap.Error(err))
	}

	// Daily inactivity sweep.
	c := cron.New()
	c.AddFunc("@daily", b.PunishInactive)
	c.Start()
	defer c.Stop()

	zlog.Info("bot started", zap.String("db", cfg.DBPath))
	b.Start()
}
