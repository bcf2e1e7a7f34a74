package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/fjod/go_cart/storefront/internal/cache"
	"github.com/fjod/go_cart/storefront/internal/config"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/logger"
	"github.com/fjod/go_cart/storefront/internal/remote"
	"github.com/fjod/go_cart/storefront/internal/service"
	"github.com/fjod/go_cart/storefront/internal/session"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type app struct {
	configPath string
	sessionID  string
	cartID     string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
	remote *remote.Client
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "cartctl",
		Short:         "Inspect and change a storefront cart",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "path to YAML config")
	rootCmd.PersistentFlags().StringVar(&a.sessionID, "session", "", "visitor session id (cart id read from the session store)")
	rootCmd.PersistentFlags().StringVar(&a.cartID, "cart", "", "cart id, bypassing the session store")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSync(cmd, func(ctx context.Context, s *service.Synchronizer) (service.Outcome, error) {
				return service.Outcome{}, nil
			})
		},
	}

	addCmd := &cobra.Command{
		Use:   "add <product-id> <quantity>",
		Short: "Add units of a product",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			productID, err := parseID(args[0])
			if err != nil {
				return err
			}
			quantity, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid quantity %q", args[1])
			}
			return a.withSync(cmd, func(ctx context.Context, s *service.Synchronizer) (service.Outcome, error) {
				p, err := a.remote.GetProduct(ctx, productID)
				if err != nil {
					return service.Outcome{}, fmt.Errorf("read product %d: %w", productID, err)
				}
				return s.AddItem(ctx, p, quantity), nil
			})
		},
	}

	qtyCmd := &cobra.Command{
		Use:   "qty <product-id> <delta>",
		Short: "Change a line's quantity by a signed delta",
		Long:  "Change a line's quantity by a signed delta. Put -- before a negative delta.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			productID, err := parseID(args[0])
			if err != nil {
				return err
			}
			delta, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid delta %q", args[1])
			}
			return a.withSync(cmd, func(ctx context.Context, s *service.Synchronizer) (service.Outcome, error) {
				return s.ChangeQuantity(ctx, productID, delta), nil
			})
		},
	}

	rmCmd := &cobra.Command{
		Use:   "rm <product-id>",
		Short: "Remove a product from the cart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			productID, err := parseID(args[0])
			if err != nil {
				return err
			}
			return a.withSync(cmd, func(ctx context.Context, s *service.Synchronizer) (service.Outcome, error) {
				return s.RemoveItem(ctx, productID), nil
			})
		},
	}

	refreshCmd := &cobra.Command{
		Use:   "refresh",
		Short: "Reload the cart from the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSync(cmd, func(ctx context.Context, s *service.Synchronizer) (service.Outcome, error) {
				if err := s.Refresh(ctx); err != nil {
					return service.Outcome{}, err
				}
				return service.Outcome{Status: service.Confirmed}, nil
			})
		},
	}

	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Manage persisted visitor sessions",
	}
	sessionSetCmd := &cobra.Command{
		Use:   "set <session-id> <cart-id>",
		Short: "Bind a session to a cart id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := a.redisClient()
			defer client.Close()
			if err := session.NewRedisStore(client).Save(cmd.Context(), args[0], session.NewProfile(args[1])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session %s -> cart %s\n", args[0], args[1])
			return nil
		},
	}
	sessionCmd.AddCommand(sessionSetCmd)

	rootCmd.AddCommand(showCmd, addCmd, qtyCmd, rmCmd, refreshCmd, sessionCmd)
	return rootCmd
}

func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	level := "warn"
	if a.verbose {
		level = "debug"
	}
	log, err := logger.New(level)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = log
	a.remote = remote.NewClient(cfg.Remote, nil, log)
	return nil
}

func (a *app) redisClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
}

// withSync opens the synchronizer selected by --cart or --session, runs fn
// and prints the outcome followed by the cart.
func (a *app) withSync(cmd *cobra.Command, fn func(context.Context, *service.Synchronizer) (service.Outcome, error)) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	strategy, err := service.ParseStrategy(a.cfg.Strategy)
	if err != nil {
		return err
	}

	var cs *service.Synchronizer
	switch {
	case a.cartID != "":
		cs, err = service.NewSynchronizer(a.cartID, a.remote, service.Options{Strategy: strategy, Logger: a.logger})
		if err != nil {
			return err
		}
		if err := cs.Load(ctx); err != nil {
			return err
		}
	case a.sessionID != "":
		client := a.redisClient()
		defer client.Close()
		registry := service.NewRegistry(session.NewRedisStore(client), a.remote, service.Options{
			Strategy: strategy,
			Cache:    cache.NewRedisCache(client),
			Logger:   a.logger,
		})
		if cs, err = registry.Open(ctx, a.sessionID); err != nil {
			return err
		}
	default:
		return errors.New("one of --cart or --session is required")
	}

	out, err := fn(ctx, cs)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if out.Status != 0 {
		fmt.Fprintf(w, "status: %s\n", out.Status)
	}
	printCart(w, cs.Cart())
	if !out.OK() && out.Status != 0 {
		return out.Err
	}
	return nil
}

func printCart(w io.Writer, c *domain.Cart) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "cart %s\n", c.ID)
	fmt.Fprintln(tw, "ID\tNAME\tQTY\tSTOCK\tPRICE\tSUBTOTAL")
	for _, l := range c.Lines {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%s\t%s\n",
			l.ProductID, l.Name, l.Quantity, l.Stock, l.UnitPrice.StringFixed(2), l.Subtotal().StringFixed(2))
	}
	fmt.Fprintf(tw, "items: %d\ttotal: %s\n", c.ItemCount(), c.Total().StringFixed(2))
	_ = tw.Flush()
}

func parseID(v string) (int64, error) {
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid product id %q", v)
	}
	return id, nil
}
