// Package cli implements the taskmatrix command line client.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"taskmatrix/api"
	"taskmatrix/board"
	"taskmatrix/config"
	"taskmatrix/live"
	"taskmatrix/storage"
)

const closeTimeout = 10 * time.Second

type app struct {
	cfgPath string
	debug   bool

	cfg    *config.Config
	logger *log.Logger
	client *api.Client
	out    io.Writer
	errOut io.Writer
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "taskmatrix",
		Short:         "Work with TaskMatrix project boards from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "config file (default $HOME/.config/taskmatrix/config.yaml)")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		a.loginCmd(),
		a.logoutCmd(),
		a.whoamiCmd(),
		a.projectsCmd(),
		a.projectCmd(),
		a.milestoneCmd(),
		a.boardCmd(),
		a.moveCmd(),
		a.addCmd(),
		a.editCmd(),
		a.myTasksCmd(),
		a.watchCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.out = cmd.OutOrStdout()
	a.errOut = cmd.ErrOrStderr()

	a.logger = log.New()
	a.logger.SetOutput(a.errOut)
	if cfg.Debug || a.debug {
		a.logger.SetLevel(log.DebugLevel)
	}

	gw := api.NewGateway(api.GatewayConfig{
		BaseURL: cfg.APIBase,
		Timeout: cfg.RequestTimeout,
		OnSignOut: func(reason error) {
			fmt.Fprintln(a.errOut, "Session expired. Run `taskmatrix login` to sign in again.")
		},
	}, api.NewFileCredentials(cfg.CredentialsFile), a.logger)
	a.client = api.NewClient(gw)
	a.logger.WithFields(log.Fields{"api": cfg.APIBase, "live": cfg.Live.Mode}).Debug("client configured")
	return nil
}

type sessionOptions struct {
	live       bool
	noCache    bool
	allowStale bool
}

// openSession opens the board of a project. The returned cleanup leaves the
// live scope and waits for queued moves.
func (a *app) openSession(ctx context.Context, projectID string, opts sessionOptions) (*board.Session, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	cacheClient, err := config.RedisClient(a.cfg.Cache.RedisURL)
	if err != nil {
		return nil, cleanup, fmt.Errorf("cache redis: %w", err)
	}
	if cacheClient != nil {
		closers = append(closers, func() { _ = cacheClient.Close() })
	}
	cache := storage.NewCache(cacheClient, a.cfg.Cache.TTL, a.logger)

	var channel board.Channel
	if opts.live {
		var liveClient *redis.Client
		if a.cfg.Live.Mode == live.ModeRedis {
			if liveClient, err = config.RedisClient(a.cfg.Live.RedisURL); err != nil {
				cleanup()
				return nil, func() {}, fmt.Errorf("live redis: %w", err)
			}
			closers = append(closers, func() { _ = liveClient.Close() })
		}
		ch, err := live.New(a.cfg.Live.Mode, a.client.Gateway(), liveClient, a.logger)
		if err != nil {
			cleanup()
			return nil, func() {}, err
		}
		closers = append(closers, func() { _ = ch.Close() })
		channel = ch
	}

	sess := board.NewSession(a.client, channel, cache, a.cfg.SessionConfig(), a.logger)
	closers = append(closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := sess.Close(ctx); err != nil {
			a.logger.Warnf("close session: %v", err)
		}
	})

	if opts.noCache {
		if b, err := a.client.FetchProjectBoards(ctx, projectID); err == nil && len(b) > 0 {
			cache.Evict(ctx, b[0].ID)
		}
	}

	if err := sess.Open(ctx, projectID); err != nil {
		if opts.allowStale && sess.Store().Len() > 0 && !errors.Is(err, board.ErrNoBoard) {
			a.logger.Warnf("showing cached snapshot: %v", err)
			return sess, cleanup, nil
		}
		cleanup()
		return nil, func() {}, err
	}
	return sess, cleanup, nil
}
