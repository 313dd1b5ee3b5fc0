package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/de1905/kamo-load-logger/kamo"
)

func main() {
	var configPath string
	var dbPath string
	var baseURL string
	var interval int
	var timezone string
	var listenAddr string
	var debug bool
	var once bool
	var syslogAddr string

	flag.StringVar(&configPath, "config", "", "YAML config file path.")
	flag.StringVar(&dbPath, "db", "data/kamo_load.db", "SQLite database path.")
	flag.StringVar(&baseURL, "base-url", "", "KAMO API base URL. Prefer config file.")
	flag.IntVar(&interval, "interval", 0, "Poll interval in minutes (5, 10, 15, 30).")
	flag.StringVar(&timezone, "tz", "", "Fixed storage time zone (IANA name).")
	flag.StringVar(&listenAddr, "listen", "", "HTTP listen address.")
	flag.BoolVar(&debug, "debug", false, "Enable debug logs.")
	flag.BoolVar(&once, "once", false, "Run a single import cycle and exit.")
	flag.StringVar(&syslogAddr, "syslog-addr", "", "Syslog notifier address (tcp). Overrides config.")
	flag.Parse()

	visited := map[string]bool{}
	flag.CommandLine.Visit(func(f *flag.Flag) {
		visited[f.Name] = true
	})

	log := logrus.New()

	cfg := &kamo.FileConfig{}
	if configPath != "" {
		loaded, err := kamo.LoadConfig(configPath)
		if err != nil {
			log.WithError(err).Fatal("load config")
		}
		cfg = loaded
	}
	cfg.ApplyDefaults()

	// CLI overrides on top of the file.
	if visited["db"] {
		cfg.DB = dbPath
	}
	if visited["base-url"] {
		cfg.BaseURL = baseURL
	}
	if visited["interval"] {
		cfg.PollIntervalMinutes = interval
	}
	if visited["tz"] {
		cfg.Timezone = timezone
	}
	if visited["listen"] {
		cfg.ListenAddr = listenAddr
	}
	if visited["debug"] {
		cfg.Debug = debug
	}
	if visited["syslog-addr"] {
		cfg.Notify.SyslogAddr = syslogAddr
	}
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid config")
	}
	if cfg.Debug {
		log.SetLevel(logrus.DebugLevel)
	}
	secrets := kamo.EnvSecrets()
	if secrets.AMQPURL != "" {
		cfg.Notify.AMQPURL = secrets.AMQPURL
	}

	db, err := kamo.OpenDB(cfg.DB)
	if err != nil {
		log.WithError(err).Fatal("open database")
	}
	defer func() {
		if err := kamo.CloseDB(db); err != nil {
			log.WithError(err).Warn("close database")
		}
	}()

	loc := cfg.Location()
	client := kamo.NewKAMOClient(cfg.BaseURL, 30*time.Second, loc, log)

	var notifier kamo.Notifier = kamo.NopNotifier{}
	switch {
	case cfg.Notify.AMQPURL != "":
		notifier = kamo.NewAMQPNotifier(cfg.Notify.AMQPURL, cfg.Notify.AMQPQueue, 5*time.Second)
	case cfg.Notify.SyslogAddr != "":
		notifier = kamo.NewSyslogNotifier(cfg.Notify.SyslogAddr, 3*time.Second)
	}

	ingestor := kamo.NewIngestor(db)
	sched, err := kamo.NewScheduler(kamo.SchedulerConfig{
		IntervalMinutes: cfg.PollIntervalMinutes,
		CallTimeout:     30 * time.Second,
		Location:        loc,
		FallbackAreas:   cfg.Areas,
	}, db, client, ingestor, notifier, log)
	if err != nil {
		log.WithError(err).Fatal("init scheduler")
	}

	// Initial import fills the gap since the last run before the aligned
	// schedule takes over.
	run, err := sched.TriggerImport()
	if err != nil {
		log.WithError(err).Error("initial import failed")
	} else {
		log.WithFields(logrus.Fields{
			"status":        run.Status,
			"load_imported": run.LoadImported,
			"sub_imported":  run.SubImported,
		}).Info("initial import finished")
	}
	if once {
		return
	}

	sched.Start()
	defer sched.Stop()

	reader := kamo.NewReader(db, loc)
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: kamo.NewServer(reader, sched, secrets.APIKey, log).Routes(),
	}
	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
}
