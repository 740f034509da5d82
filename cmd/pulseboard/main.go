package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/pulseboardhq/pulseboard/internal/api"
	"github.com/pulseboardhq/pulseboard/internal/config"
	"github.com/pulseboardhq/pulseboard/internal/database"
	"github.com/pulseboardhq/pulseboard/internal/devserver"
	"github.com/pulseboardhq/pulseboard/internal/feed"
	"github.com/pulseboardhq/pulseboard/internal/geo"
	"github.com/pulseboardhq/pulseboard/internal/logging"
	"github.com/pulseboardhq/pulseboard/internal/realtime"
	"github.com/pulseboardhq/pulseboard/internal/updates"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "pulseboard",
		Short: "Pulseboard team status sharing",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newServeCommand(), newWatchCommand(), newPostCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address for serve")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path for serve")
	cmd.PersistentFlags().String("server-url", defaults.GetString("server.url"), "Pulseboard server base URL")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("user-id", "", "Local opaque user id")
	cmd.PersistentFlags().String("user-name", "", "Display name stamped onto posted updates")
	cmd.PersistentFlags().String("user-emoji", "", "Emoji stamped onto posted updates")
	cmd.PersistentFlags().Float64("location-radius", defaults.GetFloat64("location.radius_m"), "Privacy radius in meters for location attachments")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "server.url", "server-url")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "user.id", "user-id")
	bindFlag(cmd, "user.name", "user-name")
	bindFlag(cmd, "user.emoji", "user-emoji")
	bindFlag(cmd, "location.radius_m", "location-radius")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the development backend (REST + push channel)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	store, err := devserver.NewStore(devserver.StoreConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: updates.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	handler, err := devserver.NewHTTPHandler(devserver.Dependencies{
		Store:  store,
		Hub:    devserver.NewHub(),
		Logger: logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func newWatchCommand() *cobra.Command {
	var teamID string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a team's timeline live",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), teamID)
		},
	}
	cmd.Flags().StringVar(&teamID, "team", "", "Team to watch")
	cmd.MarkFlagRequired("team") //nolint:errcheck
	return cmd
}

func runWatch(ctx context.Context, rawTeamID string) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	logger, err := logging.NewCLILogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	teamFeed, conn, err := buildFeed(appConfig, rawTeamID, logger)
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := conn.Connect(signalCtx); err != nil {
		logger.Warn("push channel unavailable, timeline will not update live", zap.Error(err))
	}
	teamFeed.Attach(conn)
	defer func() {
		teamFeed.Close()
		conn.Disconnect()
	}()

	if err := teamFeed.Load(signalCtx); err != nil {
		return err
	}
	printTimeline(teamFeed.Snapshot())

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	printed := timelineFingerprint(teamFeed.Snapshot())
	for {
		select {
		case <-signalCtx.Done():
			return nil
		case <-ticker.C:
			snapshot := teamFeed.Snapshot()
			if fingerprint := timelineFingerprint(snapshot); fingerprint != printed {
				printed = fingerprint
				fmt.Println()
				printTimeline(snapshot)
			}
		}
	}
}

// timelineFingerprint identifies the rendered membership of the set.
// Comparing identifiers rather than the entry count catches a
// provisional entry being replaced by its canonical twin, which leaves
// the count unchanged.
func timelineFingerprint(entries []updates.Update) string {
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, entry.ID)
	}
	return strings.Join(ids, "\n")
}

func printTimeline(entries []updates.Update) {
	grouped := updates.GroupByDay(entries)
	days := make([]string, 0, len(grouped))
	for day := range grouped {
		days = append(days, day)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(days)))

	for _, day := range days {
		fmt.Printf("── %s ──\n", day)
		for _, entry := range grouped[day] {
			line := fmt.Sprintf("%s %s [%s] %s",
				entry.CreatedAt.Format("15:04"), entry.AuthorName, entry.Category, entry.Text)
			if entry.AuthorEmoji != "" {
				line = entry.AuthorEmoji + " " + line
			}
			if entry.Location != nil && entry.Location.Label != "" {
				line += " @ " + entry.Location.Label
			}
			fmt.Println(line)
		}
	}
}

func newPostCommand() *cobra.Command {
	var (
		teamID   string
		text     string
		category string
		date     string
		city     string
		region   string
		country  string
	)
	cmd := &cobra.Command{
		Use:   "post",
		Short: "Post a status update",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPost(cmd.Context(), postOptions{
				teamID:   teamID,
				text:     text,
				category: category,
				date:     date,
				city:     city,
				region:   region,
				country:  country,
			})
		},
	}
	cmd.Flags().StringVar(&teamID, "team", "", "Team to post to")
	cmd.Flags().StringVar(&text, "text", "", "Update body")
	cmd.Flags().StringVar(&category, "category", "team", "Category (team, life, win, blocker)")
	cmd.Flags().StringVar(&date, "date", "", "Backdate (yesterday or YYYY-MM-DD)")
	cmd.Flags().StringVar(&city, "city", "", "Location city (optional)")
	cmd.Flags().StringVar(&region, "region", "", "Location state or region (optional)")
	cmd.Flags().StringVar(&country, "country", "", "Location country (optional)")
	cmd.MarkFlagRequired("team") //nolint:errcheck
	cmd.MarkFlagRequired("text") //nolint:errcheck
	return cmd
}

type postOptions struct {
	teamID   string
	text     string
	category string
	date     string
	city     string
	region   string
	country  string
}

func runPost(ctx context.Context, options postOptions) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	logger, err := logging.NewCLILogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	category, err := updates.NewCategory(options.category)
	if err != nil {
		return err
	}
	createdAt, err := resolveDate(options.date, time.Now)
	if err != nil {
		return err
	}

	draft := feed.Draft{
		CreatedAt: createdAt,
		Category:  category,
		Text:      options.text,
		Media:     updates.NoMedia(),
	}

	if options.city != "" || options.region != "" || options.country != "" {
		geocoder := geo.NewGeocoder(geo.GeocoderConfig{Logger: logger})
		resolved, err := geocoder.Geocode(ctx, options.city, options.region, options.country)
		if err != nil {
			return err
		}
		jittered := geo.RandomizeCoordinates(resolved.Lat, resolved.Lng, appConfig.LocationRadiusM)
		draft.Location = &updates.Location{
			Lat:       jittered.Lat,
			Lng:       jittered.Lng,
			Label:     resolved.DisplayName,
			AccuracyM: appConfig.LocationRadiusM,
		}
	}

	teamFeed, _, err := buildFeed(appConfig, options.teamID, logger)
	if err != nil {
		return err
	}
	if err := teamFeed.Submit(ctx, draft); err != nil {
		return err
	}

	fmt.Println("posted")
	return nil
}

// resolveDate maps the --date flag to the update timestamp: empty
// means now, "yesterday" keeps the current time of day one day back,
// and a YYYY-MM-DD value lands at noon UTC of that day.
func resolveDate(raw string, now func() time.Time) (time.Time, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return now().UTC(), nil
	case "yesterday":
		return now().UTC().AddDate(0, 0, -1), nil
	default:
		day, err := time.Parse("2006-01-02", strings.TrimSpace(raw))
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid --date %q: %w", raw, err)
		}
		return day.Add(12 * time.Hour), nil
	}
}

func buildFeed(appConfig config.AppConfig, rawTeamID string, logger *zap.Logger) (*feed.Feed, *realtime.Connection, error) {
	teamID, err := updates.NewTeamID(rawTeamID)
	if err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(appConfig.UserID) == "" {
		return nil, nil, fmt.Errorf("user.id is required (set PULSEBOARD_USER_ID or --user-id)")
	}

	restClient, err := api.NewClient(api.ClientConfig{BaseURL: appConfig.ServerURL, Logger: logger})
	if err != nil {
		return nil, nil, err
	}

	transport, err := realtime.NewWebsocketTransport(appConfig.WebsocketURL())
	if err != nil {
		return nil, nil, err
	}
	conn, err := realtime.NewConnection(realtime.ConnectionConfig{
		Transport: transport,
		Logger:    logger,
		OnDown: func(cause error) {
			logger.Error("push channel gave up reconnecting, refresh manually", zap.Error(cause))
		},
	})
	if err != nil {
		return nil, nil, err
	}

	teamFeed, err := feed.NewFeed(feed.FeedConfig{
		API:    restClient,
		TeamID: teamID,
		Author: feed.AuthorProfile{
			ID:       appConfig.UserID,
			Name:     appConfig.UserName,
			Emoji:    appConfig.UserEmoji,
			PhotoURL: appConfig.UserPhotoURL,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return teamFeed, conn, nil
}
