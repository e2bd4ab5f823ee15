package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/radiusdt/vector-analytics/internal/app"
	"github.com/radiusdt/vector-analytics/internal/config"
	"github.com/radiusdt/vector-analytics/internal/middleware"
	"github.com/radiusdt/vector-analytics/internal/query"
	"github.com/spf13/cobra"
)

var (
	flagBackend     string
	flagFrom        string
	flagTo          string
	flagSnapshot    string
	flagCompact     bool
	flagGranularity string
	flagModel       string
	flagSegmentType string
	flagAsOf        string
	flagSegment     string
	flagCategory    string
	flagSortBy      string
	flagLimit       int
	flagGroupBy     string
	flagStatus      string
)

var rootCmd = &cobra.Command{
	Use:           "analytics-report",
	Short:         "Run one analytics query against the configured fact store",
	Long:          "Prints the JSON envelope of an analytics operation. Connection settings come from VECTOR_ANALYTICS_* variables or a .env file.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

var overviewCmd = &cobra.Command{
	Use:   "overview",
	Short: "Headline KPIs for a window and its prior window",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, func(ctx context.Context, e *query.Engine) query.Envelope {
			return e.GetOverview(ctx, query.OverviewParams{DateFrom: flagFrom, DateTo: flagTo, Snapshot: flagSnapshot}).Envelope()
		})
	},
}

var revenueCmd = &cobra.Command{
	Use:   "revenue",
	Short: "Gap-filled revenue series with segment and channel breakdowns",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, func(ctx context.Context, e *query.Engine) query.Envelope {
			return e.GetRevenue(ctx, query.RevenueParams{
				Granularity: flagGranularity,
				DateFrom:    flagFrom,
				DateTo:      flagTo,
				Model:       flagModel,
				Snapshot:    flagSnapshot,
			}).Envelope()
		})
	},
}

var customersCmd = &cobra.Command{
	Use:   "customers",
	Short: "RFM segmentation or acquisition channel breakdown",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, func(ctx context.Context, e *query.Engine) query.Envelope {
			return e.GetCustomers(ctx, query.CustomerParams{
				SegmentType: flagSegmentType,
				DateFrom:    flagFrom,
				DateTo:      flagTo,
				AsOf:        flagAsOf,
				Segment:     flagSegment,
				Snapshot:    flagSnapshot,
			}).Envelope()
		})
	},
}

var productsCmd = &cobra.Command{
	Use:   "products",
	Short: "Product ranking and category performance",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, func(ctx context.Context, e *query.Engine) query.Envelope {
			return e.GetProducts(ctx, query.ProductParams{
				Category: flagCategory,
				SortBy:   flagSortBy,
				Limit:    flagLimit,
				DateFrom: flagFrom,
				DateTo:   flagTo,
				Snapshot: flagSnapshot,
			}).Envelope()
		})
	},
}

var marketingCmd = &cobra.Command{
	Use:   "marketing",
	Short: "Revenue attribution by traffic source or device type",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, func(ctx context.Context, e *query.Engine) query.Envelope {
			return e.GetMarketing(ctx, query.MarketingParams{
				GroupBy:  flagGroupBy,
				Model:    flagModel,
				DateFrom: flagFrom,
				DateTo:   flagTo,
				Snapshot: flagSnapshot,
			}).Envelope()
		})
	},
}

var recentOrdersCmd = &cobra.Command{
	Use:   "recent-orders",
	Short: "Newest orders with item counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, func(ctx context.Context, e *query.Engine) query.Envelope {
			return e.GetRecentOrders(ctx, query.RecentOrdersParams{Limit: flagLimit, Status: flagStatus, Snapshot: flagSnapshot}).Envelope()
		})
	},
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Overview, revenue and customers in one envelope",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, func(ctx context.Context, e *query.Engine) query.Envelope {
			return e.GetDashboard(ctx, query.DashboardParams{
				DateFrom:    flagFrom,
				DateTo:      flagTo,
				Granularity: flagGranularity,
				Snapshot:    flagSnapshot,
			}).Envelope()
		})
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flagBackend, "backend", "b", "", "Fact store backend (postgres, clickhouse, sqlite); overrides the environment")
	pf.StringVar(&flagFrom, "from", "", "First day of the window (YYYY-MM-DD)")
	pf.StringVar(&flagTo, "to", "", "Last day of the window (YYYY-MM-DD)")
	pf.StringVar(&flagSnapshot, "snapshot", "", "Expected snapshot token")
	pf.BoolVar(&flagCompact, "compact", false, "Print single-line JSON")

	revenueCmd.Flags().StringVarP(&flagGranularity, "granularity", "g", "", "day, week, month or quarter")
	revenueCmd.Flags().StringVar(&flagModel, "model", "", "first_touch or last_touch")
	dashboardCmd.Flags().StringVarP(&flagGranularity, "granularity", "g", "", "day, week, month or quarter")
	customersCmd.Flags().StringVar(&flagSegmentType, "segment-type", "", "rfm or acquisition_channel")
	customersCmd.Flags().StringVar(&flagAsOf, "as-of", "", "Reference date for recency (YYYY-MM-DD)")
	customersCmd.Flags().StringVar(&flagSegment, "segment", "", "Only customers with this stored segment label")
	productsCmd.Flags().StringVar(&flagCategory, "category", "", "Restrict to one category")
	productsCmd.Flags().StringVar(&flagSortBy, "sort-by", "", "revenue, units_sold, orders, avg_price or profit")
	productsCmd.Flags().IntVarP(&flagLimit, "limit", "l", 0, "Number of products")
	marketingCmd.Flags().StringVar(&flagGroupBy, "group-by", "", "traffic_source or device_type")
	marketingCmd.Flags().StringVar(&flagModel, "model", "", "first_touch or last_touch")
	recentOrdersCmd.Flags().IntVarP(&flagLimit, "limit", "l", 0, "Number of orders")
	recentOrdersCmd.Flags().StringVar(&flagStatus, "status", "", "completed, cancelled or refunded")

	rootCmd.AddCommand(overviewCmd, revenueCmd, customersCmd, productsCmd, marketingCmd, recentOrdersCmd, dashboardCmd)
}

// runQuery opens the fact store, runs one operation and prints its
// envelope to the command output. An error envelope makes the command fail.
func runQuery(cmd *cobra.Command, op func(context.Context, *query.Engine) query.Envelope) error {
	ctx := cmd.Context()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if flagBackend != "" {
		cfg.FactStore.Backend = flagBackend
	}
	// One-shot reads go straight to the backend.
	cfg.FactStore.Materialize = cfg.FactStore.Backend == config.BackendMemory
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := middleware.NewLogger("warn", "console")
	if err != nil {
		return err
	}
	defer logger.Sync()

	facts, err := app.OpenFactStore(ctx, cfg, logger, nil, false)
	if err != nil {
		return err
	}
	defer facts.Close(ctx)

	loc, _ := cfg.Query.Location()
	engine := query.NewEngine(facts.Store, query.Options{
		Location:          loc,
		DefaultWindowDays: cfg.Query.DefaultWindowDays,
		TrailingBuckets:   cfg.Query.TrailingBuckets,
		MaxLimit:          cfg.Query.MaxLimit,
		MaxBuckets:        cfg.Query.MaxBuckets,
	}, logger)

	env := op(ctx, engine)
	enc := json.NewEncoder(cmd.OutOrStdout())
	if !flagCompact {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(env); err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if env.Status == query.StatusError {
		if env.Error != nil {
			return fmt.Errorf("%s: %s", env.Error.Code, env.Error.Message)
		}
		return fmt.Errorf("every section failed")
	}
	return nil
}
