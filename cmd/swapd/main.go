package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/chainswap/swap-engine/pkg/allowance"
	"github.com/chainswap/swap-engine/pkg/api"
	apphttp "github.com/chainswap/swap-engine/pkg/app/http"
	"github.com/chainswap/swap-engine/pkg/chain/evm"
	"github.com/chainswap/swap-engine/pkg/config"
	"github.com/chainswap/swap-engine/pkg/coordinator"
	"github.com/chainswap/swap-engine/pkg/htlc"
	"github.com/chainswap/swap-engine/pkg/journal"
	"github.com/chainswap/swap-engine/pkg/monitor"
	"github.com/chainswap/swap-engine/pkg/notify"
	"github.com/chainswap/swap-engine/pkg/router"
	"github.com/chainswap/swap-engine/pkg/service"
	"github.com/chainswap/swap-engine/pkg/swapnet"
	"github.com/chainswap/swap-engine/pkg/tokens"
	"github.com/chainswap/swap-engine/pkg/venue"
	"github.com/chainswap/swap-engine/pkg/venue/amm"
	"github.com/chainswap/swap-engine/pkg/venue/auction"
	"github.com/chainswap/swap-engine/pkg/wallet"
)

var configPath = flag.String("config", "config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting swap engine",
		zap.String("config", *configPath),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Swap engine exited with error", zap.Error(err))
	}
	logger.Info("Swap engine stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	serverSecret, err := cfg.Secrets.DecodeServerSecret()
	if err != nil {
		return err
	}

	deriver, err := wallet.NewDeriver(
		cfg.Secrets.MasterMnemonic,
		cfg.Secrets.SeedPassphrase,
		serverSecret,
		bitcoinParams(cfg.Bitcoin.Network))
	if err != nil {
		return err
	}

	evmClient, err := evm.NewClient(&cfg.EVM, logger)
	if err != nil {
		return err
	}
	defer evmClient.Close()
	logger.Info("Connected to EVM chain",
		zap.String("rpc_url", cfg.EVM.RPCURL),
		zap.Int64("chain_id", cfg.EVM.ChainID))

	adapters, monitors, err := buildVenues(cfg, evmClient, logger)
	if err != nil {
		return err
	}

	allowances := allowance.NewManager(evmClient, logger)
	rt := router.NewRouter(adapters, evmClient, allowances, cfg.Venues.QuoteTimeout, logger)

	lock, err := htlc.NewContract(evmClient, common.HexToAddress(cfg.EVM.HTLCContract), logger)
	if err != nil {
		return err
	}
	liquidity := swapnet.NewClient(&cfg.Swapnet)
	keystore := wallet.NewKeystore(serverSecret)

	var swapJournal coordinator.Journal
	if cfg.Database.Host != "" {
		store, err := journal.Open(cfg.Database)
		if err != nil {
			return err
		}
		defer store.Close()
		swapJournal = store
		logger.Info("Swap journal enabled", zap.String("host", cfg.Database.Host))
	}

	coord := coordinator.New(liquidity, lock, keystore, swapJournal, cfg.Coordinator.Timelock, logger)
	coord.Subscribe(notify.NewLogSink(logger))
	if swapJournal != nil {
		if err := coord.Restore(ctx, deriver); err != nil {
			return err
		}
	}

	engine := coordinator.NewEngine(coord, cfg.Coordinator.SettleInterval, logger)
	engine.Start(ctx)
	defer engine.Stop()

	var registry *tokens.Registry
	if cfg.TokenList != "" {
		registry, err = tokens.Load(cfg.TokenList)
		if err != nil {
			return err
		}
		logger.Info("Token list loaded",
			zap.String("path", cfg.TokenList),
			zap.Int("tokens", registry.Len()))
	}

	svc := service.New(deriver, rt, coord, registry, monitors, service.MonitorConfig{
		PollInterval: cfg.Monitor.PollInterval,
		Timeout:      cfg.Monitor.Timeout,
	}, logger)

	routes := api.NewRouter(service.NewLog(svc, logger), cfg.Monitoring.Enabled, logger)
	return apphttp.ServeAndWait(ctx, routes, logger, &cfg.Server)
}

func buildVenues(cfg *config.Config, evmClient *evm.Client, logger *zap.Logger) ([]venue.Adapter, map[string]*monitor.Monitor, error) {
	var adapters []venue.Adapter
	monitors := make(map[string]*monitor.Monitor)

	if cfg.Venues.AMM.Enabled {
		registry, err := amm.NewChainRegistry(evmClient,
			common.HexToAddress(cfg.Venues.AMM.Factory),
			common.HexToAddress(cfg.Venues.AMM.Quoter))
		if err != nil {
			return nil, nil, err
		}
		ammAdapter, err := amm.NewAdapter(evmClient, registry,
			common.HexToAddress(cfg.Venues.AMM.Router),
			cfg.Venues.AMM.FeeTiers,
			cfg.EVM.WrappedNative,
			cfg.Venues.AMM.QuoteTTL,
			logger)
		if err != nil {
			return nil, nil, err
		}
		adapters = append(adapters, ammAdapter)
	}

	if cfg.Venues.Auction.Enabled {
		auctionAdapter := auction.NewAdapter(&cfg.Venues.Auction, cfg.EVM.WrappedNative, logger)
		adapters = append(adapters, auctionAdapter)
		monitors[auctionAdapter.ID()] = monitor.NewMonitor(auctionAdapter, logger)
	}

	if len(adapters) == 0 {
		return nil, nil, fmt.Errorf("no trading venues enabled")
	}
	return adapters, monitors, nil
}

func bitcoinParams(network string) *chaincfg.Params {
	switch network {
	case "testnet3":
		return &chaincfg.TestNet3Params
	case "regtest":
		return &chaincfg.RegressionNetParams
	default:
		return &chaincfg.MainNetParams
	}
}
