package main

import (
	"context"
	"errors"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/spf13/cobra"

	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/config"
	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/models"
	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/redis"
	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/services"
)

type rootFlags struct {
	configPath string
	token      string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "bazaar-chat",
		Short:         "Bazaar marketplace chat client",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", config.DefaultPath, "path to the JSON config file")
	cmd.PersistentFlags().StringVar(&flags.token, "token", "", "bearer token; overrides the configured credential store")

	cmd.AddCommand(
		newServeCmd(flags),
		newConversationsCmd(flags),
		newContactCmd(flags),
		newFollowCmd(flags),
	)
	return cmd
}

func (f *rootFlags) load() (config.Config, error) {
	cfg, err := config.LoadConfig(f.configPath)
	if err != nil {
		return cfg, err
	}
	log.SetLevel(cfg.Log.LogLevel())
	return cfg, nil
}

// resolveAuth reads the stored credential. A missing token is not an error:
// REST calls go out unauthenticated and realtime stays disabled.
func (f *rootFlags) resolveAuth(ctx context.Context, cfg config.Config) (models.AuthContext, error) {
	var store services.TokenStore
	switch {
	case f.token != "":
		store = services.StaticTokenStore(f.token)
	case cfg.Auth.Store == "redis":
		rdb, err := redis.NewRedisClient(cfg.Redis)
		if err != nil {
			return models.AuthContext{}, err
		}
		defer rdb.Close()
		store = redis.NewTokenStore(rdb.Client, cfg.Auth.RedisKey)
	default:
		store = services.FileTokenStore{Path: cfg.Auth.TokenFile}
	}

	auth, err := services.NewAuthService(store).Current(ctx)
	switch {
	case err == nil:
		return auth, nil
	case errors.Is(err, services.ErrNoToken), errors.Is(err, services.ErrTokenExpired):
		log.Warnf("no usable credential (%v), continuing unauthenticated", err)
		return models.AuthContext{}, nil
	default:
		return models.AuthContext{}, err
	}
}

func apiTimeout(cfg config.Config) time.Duration {
	return time.Duration(cfg.API.TimeoutSeconds) * time.Second
}
