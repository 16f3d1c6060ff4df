package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quorumtrade/quorum/internal/app"
	"github.com/quorumtrade/quorum/internal/config"
	"github.com/quorumtrade/quorum/internal/logger"
	"github.com/quorumtrade/quorum/internal/stats"
)

var (
	runFrom    string
	runTo      string
	runTickers []string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a backtest",
	Long:  "Run the configured experts over historical data and report portfolio performance",
	RunE:  runBacktest,
}

func init() {
	runCmd.Flags().StringVar(&runFrom, "from", "", "Override start date YYYY-MM-DD")
	runCmd.Flags().StringVar(&runTo, "to", "", "Override end date YYYY-MM-DD")
	runCmd.Flags().StringSliceVar(&runTickers, "tickers", nil, "Override configured tickers")

	rootCmd.AddCommand(runCmd)
}

func runBacktest(cmd *cobra.Command, args []string) error {
	log := logger.Must(debug)
	defer log.Sync()

	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}
	if runFrom != "" {
		cfg.Backtest.StartDate = runFrom
	}
	if runTo != "" {
		cfg.Backtest.EndDate = runTo
	}
	if len(runTickers) > 0 {
		cfg.Backtest.Tickers = runTickers
	}

	a, err := app.New(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := a.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Println("=== Quorum Backtest ===")
	fmt.Printf("Backtest ID:  %s\n", result.BacktestID)
	fmt.Printf("Trading days: %d\n", result.TradingDays)
	fmt.Printf("Trades:       %d\n", result.Trades)
	fmt.Println()
	printMetrics(result.Results.PortfolioMetrics)
	return nil
}

func loadConfig(log *zap.Logger) (*config.Config, error) {
	if cfgFile != "" {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return cfg, nil
	}
	log.Warn("no config file specified, using defaults")
	return config.Defaults(), nil
}

func printMetrics(m stats.PortfolioMetrics) {
	fmt.Printf("Total return:       %8.2f%%\n", m.TotalReturn*100)
	fmt.Printf("Annualized return:  %8.2f%%\n", m.AnnualizedReturn*100)
	fmt.Printf("Sharpe ratio:       %8.2f\n", m.SharpeRatio)
	fmt.Printf("Sortino ratio:      %8.2f\n", m.SortinoRatio)
	fmt.Printf("Calmar ratio:       %8.2f\n", m.CalmarRatio)
	fmt.Printf("Max drawdown:       %8.2f%%\n", m.MaxDrawdown*100)
	fmt.Printf("Volatility:         %8.2f%%\n", m.Volatility*100)
	fmt.Printf("Win rate:           %8.2f%%\n", m.WinRate*100)
	fmt.Printf("Profit factor:      %8.2f\n", m.ProfitFactor)
	fmt.Printf("Closed trades:      %8d\n", m.TotalTrades)
	fmt.Printf("Avg hold time:      %8.1f days\n", m.AvgHoldTime)
	fmt.Printf("Final value:        %10.2f\n", m.FinalValue)
}
