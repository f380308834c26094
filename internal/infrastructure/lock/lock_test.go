package lock_test

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/cfdi-engine/internal/application/billing"
	"github.com/jhoicas/cfdi-engine/internal/infrastructure/lock"
	"github.com/jhoicas/cfdi-engine/pkg/config"
)

// exerciseLocker mismo contrato para ambas implementaciones.
func exerciseLocker(t *testing.T, l billing.Locker, key string) {
	t.Helper()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(ctx, key, 5*time.Second)
			if !assert.NoError(t, err) {
				return
			}
			defer release()
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside, "un solo timbrado por emisor a la vez")

	// ocupado: el llamador con plazo corto desiste
	release, err := l.Acquire(ctx, key, 5*time.Second)
	require.NoError(t, err)
	short, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(short, key, 5*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// liberar dos veces no rompe nada
	release()
	release()
	again, err := l.Acquire(ctx, key, 5*time.Second)
	require.NoError(t, err)
	again()

	// emisores distintos no se bloquean entre sí
	a, err := l.Acquire(ctx, key+"-a", time.Second)
	require.NoError(t, err)
	b, err := l.Acquire(ctx, key+"-b", time.Second)
	require.NoError(t, err)
	a()
	b()
}

func TestLocalLocker(t *testing.T) {
	exerciseLocker(t, lock.NewLocalLocker(), "issuer-1")
}

func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR no definido")
	}
	client, err := lock.ConnectRedis(context.Background(), config.RedisConfig{Addr: addr})
	require.NoError(t, err)
	defer client.Close()

	exerciseLocker(t, lock.NewRedisLocker(client, nil), "test-"+time.Now().Format("150405.000"))
}
