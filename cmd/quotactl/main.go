package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/samber/do"
	"github.com/serroba/driftquota/internal/config"
	"github.com/serroba/driftquota/internal/container"
	"github.com/serroba/driftquota/internal/quota"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func registerPackages(injector *do.Injector, options *container.Options) {
	do.ProvideValue(injector, options)
	container.LoggerPackage(injector)
	container.RedisPackage(injector)
	container.PostgresPackage(injector)
	container.PolicyPackage(injector)
	container.StorePackage(injector)
	container.MetricsPackage(injector)
	container.InstancePackage(injector)
	container.PublisherPackage(injector)
	container.TrackerPackage(injector)
}

// limitOp runs one operation against a limit and describes the result.
type limitOp func(ctx context.Context, limit *quota.Limit, amount int64) (string, error)

// runLimitOp resolves the configured limit for action and subject and runs op on it.
func runLimitOp(
	ctx context.Context,
	tracker *quota.Tracker,
	action, subject string,
	amount int64,
	op limitOp,
) (string, error) {
	limit, err := tracker.ForAction(action, subject)
	if err != nil {
		return "", fmt.Errorf("invalid limit: %w", err)
	}

	out, err := op(ctx, limit, amount)
	if err != nil {
		return "", fmt.Errorf("%s: %w", limit.Key(), err)
	}

	return out, nil
}

func usedOp(ctx context.Context, l *quota.Limit, _ int64) (string, error) {
	used, err := l.Used(ctx)

	return fmt.Sprintf("%s used=%d max=%d", l.Key(), used, l.Max()), err
}

func incrementOp(ctx context.Context, l *quota.Limit, n int64) (string, error) {
	ok, err := l.Increment(ctx, n)

	return fmt.Sprintf("%s accepted=%t", l.Key(), ok), err
}

func decrementOp(ctx context.Context, l *quota.Limit, n int64) (string, error) {
	ok, err := l.Decrement(ctx, n)

	return fmt.Sprintf("%s accepted=%t", l.Key(), ok), err
}

func resetOp(ctx context.Context, l *quota.Limit, _ int64) (string, error) {
	return l.Key() + " reset", l.Reset(ctx)
}

func limitCommand(use, short string, op limitOp) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <action> <subject> [amount]",
		Short: short,
		Args:  cobra.RangeArgs(2, 3),
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, options *container.Options) {
			amount := int64(1)

			if len(args) == 3 {
				n, err := strconv.ParseInt(args[2], 10, 64)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "amount must be an integer: %q\n", args[2])
					os.Exit(2)
				}

				amount = n
			}

			injector := do.New()
			registerPackages(injector, options)

			logger := do.MustInvoke[*zap.Logger](injector)
			tracker := do.MustInvoke[*quota.Tracker](injector)

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			out, err := runLimitOp(ctx, tracker, args[0], args[1], amount, op)

			cancel()

			if err != nil {
				logger.Error(use+" failed", zap.String("action", args[0]), zap.Error(err))
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), out)
			}

			if shutdownErr := injector.Shutdown(); shutdownErr != nil {
				logger.Error("shutdown error", zap.Error(shutdownErr))
			}

			if err != nil {
				os.Exit(1)
			}
		}),
	}
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, options *container.Options) {
		hooks.OnStart(func() {
			loaded, err := config.LoadPolicy(options.PolicyFile)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}

			for _, action := range loaded.Policy.Actions() {
				rule, _ := loaded.Policy.Rule(action)
				fmt.Printf("%s\tmax=%d\tperiod=%s\n", action, rule.Max, rule.Period)
			}
		})
	})

	root := cli.Root()
	root.Use = "quotactl"
	root.Short = "Inspect and adjust distributed quotas"

	root.AddCommand(
		limitCommand("used", "Show units used", usedOp),
		limitCommand("increment", "Consume units", incrementOp),
		limitCommand("decrement", "Release units", decrementOp),
		limitCommand("reset", "Delete the counter", resetOp),
	)

	cli.Run()
}
