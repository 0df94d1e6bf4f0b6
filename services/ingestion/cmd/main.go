package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"jobwatch/services/ingestion/internal/app"
	"jobwatch/services/ingestion/internal/config"
	"jobwatch/services/ingestion/internal/scheduler"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	var (
		run        = flag.Bool("run", false, "run ingestion cycles on the configured interval until interrupted")
		once       = flag.Bool("once", false, "run a single ingestion cycle and print the results")
		editConfig = flag.Bool("config", false, "print the search configuration, applying any of the flags below first")

		terms     = flag.String("terms", "", "comma separated search terms")
		location  = flag.String("location", "", "search location")
		companies = flag.String("filter-companies", "", "comma separated companies to exclude")
		words     = flag.String("filter-words", "", "comma separated title words to exclude")
		interval  = flag.Int("interval", 0, "minutes between cycles")
		proxies   = flag.String("proxies", "", "comma separated proxy pool")
	)
	flag.Parse()

	switch {
	case *editConfig:
		if err := updateConfig(func(doc *config.Document) (changed bool) {
			flag.Visit(func(f *flag.Flag) {
				if f.Name == "config" {
					return
				}
				changed = true
				switch f.Name {
				case "terms":
					doc.SearchTerms = config.SplitList(*terms)
				case "location":
					doc.Location = *location
				case "filter-companies":
					doc.FilterCompanies = config.SplitList(*companies)
				case "filter-words":
					doc.FilterWords = config.SplitList(*words)
				case "interval":
					doc.IntervalRun = *interval
				case "proxies":
					doc.Proxies = config.SplitList(*proxies)
				}
			})
			return changed
		}); err != nil {
			log.Fatal(err)
		}
	case *once:
		runOnce()
	case *run:
		runLoop()
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func updateConfig(apply func(*config.Document) bool) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	store := config.NewStore(cfg.DocumentPath)

	doc, err := store.Load()
	if err != nil {
		return err
	}
	if apply(&doc) {
		validation, err := store.Save(doc)
		for _, w := range validation.Warnings {
			fmt.Fprintln(os.Stderr, "warning:", w)
		}
		if err != nil {
			return err
		}
		if doc, err = store.Load(); err != nil {
			return err
		}
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runLoop() {
	fxApp := fx.New(
		app.Module,
		fx.Invoke(app.StartScheduler),
	)

	if err := fxApp.Start(context.Background()); err != nil {
		log.Fatal(err)
	}

	<-fxApp.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := fxApp.Stop(stopCtx); err != nil {
		log.Fatal(err)
	}
}

func runOnce() {
	var (
		sched  *scheduler.Scheduler
		logger *zap.Logger
	)
	fxApp := fx.New(app.Module, fx.Populate(&sched, &logger))

	startCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := fxApp.Start(startCtx); err != nil {
		log.Fatal(err)
	}

	results, runErr := sched.RunOnce(context.Background())
	if runErr != nil {
		logger.Error("cycle failed", zap.Error(runErr))
	}

	out, err := json.MarshalIndent(results, "", "  ")
	if err == nil {
		fmt.Println(string(out))
	}

	if err := fxApp.Stop(context.Background()); err != nil {
		log.Fatal(err)
	}
	if runErr != nil {
		os.Exit(1)
	}
}
