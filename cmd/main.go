// Command e2sm-ntn runs the E2SM-NTN service model function. It accepts UE
// measurements on the southbound listener, serves subscriptions to xApps
// on the northbound listener and emits encoded NTN indications.
//
//	e2sm-ntn -c ./config/ntncfg.yaml
//	e2sm-ntn -c ./config/ntncfg.yaml -check
package main

import (
	stdctx "context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/free5gc/e2sm-ntn/internal/logger"
	"github.com/free5gc/e2sm-ntn/pkg/app"
	"github.com/free5gc/e2sm-ntn/pkg/factory"
)

func main() {
	configPath := flag.String("c", factory.DefaultConfigPath(),
		"path to the E2SM-NTN config file (YAML), also read from $"+factory.NtnConfigEnv)
	checkOnly := flag.Bool("check", false, "validate the config file and exit")
	drainTimeout := flag.Duration("drain-timeout", 10*time.Second,
		"how long shutdown may spend delivering queued indications")
	flag.Parse()

	// ---- 1. config: defaults, TLE catalog and wire ranges ------------------
	//
	// Logging starts at info; NewApp switches to the configured level.
	_ = logger.InitLog("info", false)

	config, readError := factory.ReadConfig(*configPath)
	if readError != nil {
		logger.CfgLog.Errorf("config rejected: %v", readError)
		os.Exit(1)
	}
	logger.CfgLog.Infof("loaded %s: %s", *configPath, config.Summary())
	if *checkOnly {
		return
	}

	// ---- 2. wire ephemeris, aggregator, dispatcher and publisher ------------

	ntnApp, appError := app.NewApp(config)
	if appError != nil {
		logger.MainLog.Errorf("failed to build E2SM-NTN function: %v", appError)
		os.Exit(1)
	}

	// ---- 3. open listeners and start the report scheduler -------------------

	signalContext, stopSignals := signal.NotifyContext(stdctx.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	if startError := ntnApp.Start(signalContext); startError != nil {
		logger.MainLog.Errorf("failed to start E2SM-NTN function: %v", startError)
		stopSignals()
		os.Exit(1)
	}

	<-signalContext.Done()
	stopSignals()
	logger.MainLog.Infof("shutdown requested, draining for up to %s", *drainTimeout)

	// ---- 4. end subscriptions and deliver queued indications ----------------

	drainContext, cancelDrain := stdctx.WithTimeout(stdctx.Background(), *drainTimeout)
	defer cancelDrain()

	if stopError := ntnApp.Stop(drainContext); stopError != nil {
		logger.MainLog.Warnf("shutdown incomplete: %v", stopError)
		return
	}
	logger.MainLog.Info("E2SM-NTN function stopped")
}
