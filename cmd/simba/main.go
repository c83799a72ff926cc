package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/simbachain/simba-go/pkg/infra"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"
)

var (
	fullCmd string
)

var (
	app        = kingpin.New("simba", "Submit signed method calls to a SIMBA application")
	run        = app.Command("run", "Run every call of the calls file through the ordered queue").Default()
	runConfig  = run.Flag("config", "Path of config file").Required().Short('c').String()
	call       = app.Command("call", "Submit a single method call")
	callConfig = call.Flag("config", "Path of config file").Required().Short('c').String()
	callMethod = call.Arg("method", "Method to call").Required().String()
	callParams = call.Flag("param", "Method parameter as key=value").Short('p').StringMap()
	callFiles  = call.Flag("file", "File to attach").Short('f').ExistingFiles()
	callWait   = call.Flag("wait", "Wait for the transaction to reach --state").Bool()
	callState  = call.Flag("state", "Target state").Default(string(infra.StateCompleted)).String()
	wait       = app.Command("wait", "Wait for a transaction to reach a state")
	waitConfig = wait.Flag("config", "Path of config file").Required().Short('c').String()
	waitID     = wait.Arg("id", "Transaction id").Required().String()
	waitState  = wait.Flag("state", "Target state").Default(string(infra.StateCompleted)).String()
	waitPoll   = wait.Flag("poll", "Polling interval").Default("1s").Duration()
	waitFor    = wait.Flag("timeout", "Maximum time to wait").Default("10s").Duration()
	version    = app.Command("version", "Show version information")
)

var (
	bundle       = app.Command("bundle", "Fetch the bundle of a transaction")
	bundleConfig = bundle.Flag("config", "Path of config file").Required().Short('c').String()
	bundleID     = bundle.Arg("id", "Transaction id or hash").Required().String()
	bundleFile   = bundle.Flag("file", "Fetch a single file of the bundle").Short('f').String()
	bundleOut    = bundle.Flag("out", "Write to this path instead of stdout").Short('o').String()
	bundleList   = bundle.Flag("manifest", "List the bundle files only").Bool()
	balance      = app.Command("balance", "Show the balance of the signing account")
	balanceCfg   = balance.Flag("config", "Path of config file").Required().Short('c').String()
	fund         = app.Command("fund", "Ask the service faucet to fund the signing account")
	fundConfig   = fund.Flag("config", "Path of config file").Required().Short('c').String()
)

func setLogLevel(logger *log.Logger) {
	logger.SetLevel(log.InfoLevel)
	if value, ok := os.LookupEnv("SIMBA_LOGLEVEL"); ok {
		if level, err := log.ParseLevel(value); err == nil {
			logger.SetLevel(level)
		}
	}
}

func getLogger() *log.Logger {
	logger := log.New()
	setLogLevel(logger)
	return logger
}

func getConfig(path string) *infra.Config {
	config, err := infra.LoadConfigFromFile(path)
	if err != nil {
		log.Panicf("Fail to load config: %v\n", err)
	}
	return config
}

func callOnce(ctx context.Context, logger *log.Logger) error {
	config := getConfig(*callConfig)
	pipeline, err := infra.NewPipeline(config, logger, nil)
	if err != nil {
		return err
	}

	target, err := infra.ParseState(*callState)
	if err != nil {
		return err
	}

	params := make(map[string]interface{}, len(*callParams))
	for k, v := range *callParams {
		params[k] = v
	}
	items, err := infra.GenerateWorkload([]infra.CallTemplate{{Method: *callMethod, Params: params, Files: *callFiles}}, ".")
	if err != nil {
		return err
	}
	item := items[0]

	outcome, err := pipeline.Submitter.Submit(ctx, item.Method, item.Params, item.Attachments)
	if err != nil {
		return err
	}
	fmt.Printf("Request: %s\n", outcome.RequestID)

	if !*callWait {
		return nil
	}
	queueConfig := config.QueueConfig()
	record, err := pipeline.Observer.WaitFor(ctx, outcome.RequestID, target, queueConfig.PollInterval, queueConfig.Timeout)
	if err != nil {
		return err
	}
	printRecord(record)
	return nil
}

func waitOnce(ctx context.Context, logger *log.Logger) error {
	config := getConfig(*waitConfig)
	pipeline, err := infra.NewPipeline(config, logger, nil)
	if err != nil {
		return err
	}

	target, err := infra.ParseState(*waitState)
	if err != nil {
		return err
	}

	record, err := pipeline.Observer.WaitFor(ctx, *waitID, target, *waitPoll, *waitFor)
	if err != nil {
		return err
	}
	printRecord(record)
	return nil
}

func fetchBundle(ctx context.Context, logger *log.Logger) error {
	pipeline, err := infra.NewPipeline(getConfig(*bundleConfig), logger, nil)
	if err != nil {
		return err
	}

	if *bundleList {
		manifest, err := pipeline.Transport.BundleMetadata(ctx, *bundleID)
		if err != nil {
			return err
		}
		for _, f := range manifest.Files {
			fmt.Printf("%-32s %-24s %10s %s\n", f.Name, f.MimeType, f.Size, f.Hash)
		}
		return nil
	}

	out := os.Stdout
	if *bundleOut != "" {
		f, err := os.Create(*bundleOut)
		if err != nil {
			return errors.Wrapf(err, "fail to create %s", *bundleOut)
		}
		defer f.Close()
		out = f
	}

	var n int64
	if *bundleFile != "" {
		n, err = pipeline.Transport.BundleFile(ctx, *bundleID, *bundleFile, out)
	} else {
		n, err = pipeline.Transport.Bundle(ctx, *bundleID, out)
	}
	if err != nil {
		return err
	}
	logger.Infof("Wrote %d bytes", n)
	return nil
}

func showBalance(ctx context.Context, logger *log.Logger) error {
	pipeline, err := infra.NewPipeline(getConfig(*balanceCfg), logger, nil)
	if err != nil {
		return err
	}
	b, err := pipeline.Transport.Balance(ctx, pipeline.Signer.Address())
	if err != nil {
		return err
	}
	if b.Poa {
		fmt.Println("Balance: not applicable on a poa network")
		return nil
	}
	fmt.Printf("Balance: %s %s\n", b.Amount, b.Currency)
	return nil
}

func addFunds(ctx context.Context, logger *log.Logger) error {
	pipeline, err := infra.NewPipeline(getConfig(*fundConfig), logger, nil)
	if err != nil {
		return err
	}
	f, err := pipeline.Transport.AddFunds(ctx, pipeline.Signer.Address())
	if err != nil {
		return err
	}
	switch {
	case f.Poa:
		fmt.Println("No funds needed on a poa network")
	case f.TxnID != "":
		fmt.Printf("Funding transaction: %s\n", f.TxnID)
	default:
		fmt.Printf("Request funds from the faucet at %s\n", f.FaucetURL)
	}
	return nil
}

func printRecord(record *infra.Record) {
	if record == nil {
		fmt.Println("State: unknown")
		return
	}
	fmt.Printf("State: %s\n", record.State)
	if record.TxHash != "" {
		fmt.Printf("Transaction hash: %s\n", record.TxHash)
	}
	if record.Block != "" {
		fmt.Printf("Block: %s\n", record.Block)
	}
	if record.Error != "" {
		fmt.Printf("Error: %s\n", record.Error)
	}
	if !record.CreatedAt.IsZero() {
		fmt.Printf("Created: %s\n", record.CreatedAt.Format(time.RFC3339))
	}
}

func main() {
	var err error
	logger := getLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fullCmd = kingpin.MustParse(app.Parse(os.Args[1:]))
	switch fullCmd {
	case run.FullCommand():
		config := getConfig(*runConfig)
		err = infra.Process(ctx, config, logger)
	case call.FullCommand():
		err = callOnce(ctx, logger)
	case wait.FullCommand():
		err = waitOnce(ctx, logger)
	case bundle.FullCommand():
		err = fetchBundle(ctx, logger)
	case balance.FullCommand():
		err = showBalance(ctx, logger)
	case fund.FullCommand():
		err = addFunds(ctx, logger)
	case version.FullCommand():
		fmt.Print(infra.GetVersionInfo())
	default:
		err = errors.Errorf("Invalid command: %s", fullCmd)
	}

	if err != nil {
		logger.Errorln(err)
		stop()
		os.Exit(1)
	}
}
