package server_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/victornm/gudritis/internal/config"
	"github.com/victornm/gudritis/internal/server"
)

func TestDefaultConfig_EnvOverrides(t *testing.T) {
	t.Setenv("GUDRITIS_GAME_IDLETIMEOUT", "5m")
	t.Setenv("GUDRITIS_STORE_DRIVER", "postgres")

	c := server.DefaultConfig()
	require.NoError(t, config.Load("", "gudritis", &c))

	require.Equal(t, 5*time.Minute, c.Game.IdleTimeout)
	require.Equal(t, server.StoreDriverPostgres, c.Store.Driver)
	require.Equal(t, 2*time.Second, c.Game.DeliveryTimeout, "defaults should survive loading")
	require.Equal(t, []string{"localhost:6379"}, c.Redis.Pubsub.Addrs)
	require.Equal(t, int32(8080), c.HTTP.Port)
}
