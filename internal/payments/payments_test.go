package payments

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nerdneilsfield/dreamforge/internal/config"
	"github.com/nerdneilsfield/dreamforge/internal/models"
	"github.com/nerdneilsfield/dreamforge/internal/storage"
)

func newService(t *testing.T) (*Service, models.User) {
	t.Helper()
	db, err := storage.InitDB(filepath.Join(t.TempDir(), "payments.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close(db) })

	users := storage.NewUserStore(db)
	user, err := users.CreateUser(context.Background(), models.User{
		Username: "payer", Email: "payer@example.com", PasswordHash: "x", Credits: 5,
	})
	require.NoError(t, err)

	svc := NewService(config.DefaultPackages(), NewSimulatedProvider(""), storage.NewPurchaseStore(db, zap.NewNop()), users, zap.NewNop())
	return svc, user
}

func TestPackages(t *testing.T) {
	svc, _ := newService(t)
	pkgs := svc.Packages()
	require.Len(t, pkgs, 3)
	assert.Equal(t, "4.99", pkgs[0].Price)
	assert.Equal(t, 50, pkgs[1].Credits)
	assert.True(t, pkgs[1].Popular)
	assert.Equal(t, "24.99", pkgs[2].Price)

	_, err := svc.Package(9)
	assert.ErrorIs(t, err, ErrUnknownPackage)
}

func TestCreateAndCapture(t *testing.T) {
	svc, user := newService(t)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, user.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, order.Status)
	assert.NotEmpty(t, order.ID)
	require.Len(t, order.Links, 3)
	assert.Equal(t, "approve", order.Links[0].Rel)

	res, err := svc.CaptureOrder(ctx, user.ID, order.ID, 2)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, 55, res.User.Credits)
	assert.Equal(t, 999, res.Purchase.AmountCents)
	assert.Equal(t, order.ID, res.Purchase.OrderID)

	replay, err := svc.CaptureOrder(ctx, user.ID, order.ID, 2)
	require.NoError(t, err)
	assert.False(t, replay.Applied)
	assert.Equal(t, 55, replay.User.Credits)
	assert.Equal(t, res.Purchase.ID, replay.Purchase.ID)

	history, err := svc.Purchases(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, order.ID, history[0].OrderID)

	none, err := svc.Purchases(ctx, user.ID+1)
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.NotNil(t, none)
}

func TestCaptureRejectsForeignOrders(t *testing.T) {
	svc, user := newService(t)
	ctx := context.Background()

	_, err := svc.CaptureOrder(ctx, user.ID, "MADE-UP", 1)
	assert.ErrorIs(t, err, ErrOrderNotFound)

	order, err := svc.CreateOrder(ctx, user.ID, 1)
	require.NoError(t, err)

	_, err = svc.CaptureOrder(ctx, user.ID, order.ID, 3)
	assert.ErrorIs(t, err, ErrOrderNotFound)
	_, err = svc.CaptureOrder(ctx, user.ID+1, order.ID, 1)
	assert.ErrorIs(t, err, ErrOrderNotFound)
	_, err = svc.CreateOrder(ctx, user.ID, 42)
	assert.ErrorIs(t, err, ErrUnknownPackage)
}
