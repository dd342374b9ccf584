package registry

import (
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/screenhub/screen-hub-go/internal/apperrors"
	"github.com/screenhub/screen-hub-go/internal/auth"
	"github.com/screenhub/screen-hub-go/internal/db"
)

func setupTestService(t *testing.T) *Service {
	t.Helper()
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "test.db")

	dbPair, err := db.Init(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { dbPair.Close() })

	return NewService(dbPair, nil, nil)
}

var (
	owner    = auth.User{Sub: "owner-1", Role: auth.RoleOwner}
	stranger = auth.User{Sub: "owner-2", Role: auth.RoleOwner}
	admin    = auth.User{Sub: "admin-1", Role: auth.RoleAdmin}
)

func TestProvisionAndConsumeToken(t *testing.T) {
	service := setupTestService(t)

	device, token, err := service.Provision(owner, "device-1")
	require.NoError(t, err)
	require.Equal(t, "device-1", device.DeviceID)
	require.Equal(t, "owner-1", device.OwnerID)
	require.NotEmpty(t, token)

	deviceID, err := service.ConsumeProvisioningToken(token)
	require.NoError(t, err)
	require.Equal(t, "device-1", deviceID)

	// The token is single-use.
	_, err = service.ConsumeProvisioningToken(token)
	require.Error(t, err)
	require.Equal(t, apperrors.ErrorCodeProvisionToken, apperrors.EnsureAppError(err).Code)
}

func TestProvisionConflict(t *testing.T) {
	service := setupTestService(t)

	_, _, err := service.Provision(owner, "device-1")
	require.NoError(t, err)

	_, _, err = service.Provision(owner, "device-1")
	require.Error(t, err)
	require.Equal(t, apperrors.ErrorCodeConflict, apperrors.EnsureAppError(err).Code)
}

func TestBindCreatesScreen(t *testing.T) {
	service := setupTestService(t)

	_, _, err := service.Provision(owner, "device-1")
	require.NoError(t, err)

	result, err := service.Bind(owner, "device-1", "screen-1", "Lobby North")
	require.NoError(t, err)
	require.Equal(t, "screen-1", result.ScreenID)
	require.Equal(t, "Lobby North", result.ScreenName)

	screen, err := service.GetScreen("screen-1")
	require.NoError(t, err)
	require.NotNil(t, screen)
	require.Equal(t, "owner-1", screen.OwnerID)
	require.Equal(t, "Lobby North", screen.DisplayName)
}

func TestBindDefaultsScreenName(t *testing.T) {
	service := setupTestService(t)

	_, _, err := service.Provision(owner, "device-1")
	require.NoError(t, err)

	result, err := service.Bind(owner, "device-1", "screen-1", "")
	require.NoError(t, err)
	require.Equal(t, "screen-1", result.ScreenName)
}

func TestBindRenamesExistingScreen(t *testing.T) {
	service := setupTestService(t)

	_, _, err := service.Provision(owner, "device-1")
	require.NoError(t, err)

	_, err = service.Bind(owner, "device-1", "screen-1", "Old Name")
	require.NoError(t, err)

	result, err := service.Bind(owner, "device-1", "screen-1", "New Name")
	require.NoError(t, err)
	require.Equal(t, "New Name", result.ScreenName)

	screen, err := service.GetScreen("screen-1")
	require.NoError(t, err)
	require.Equal(t, "New Name", screen.DisplayName)
}

func TestBindIsIdempotent(t *testing.T) {
	service := setupTestService(t)

	_, _, err := service.Provision(owner, "device-1")
	require.NoError(t, err)

	first, err := service.Bind(owner, "device-1", "screen-1", "Lobby")
	require.NoError(t, err)

	second, err := service.Bind(owner, "device-1", "screen-1", "Lobby")
	require.NoError(t, err)
	require.Equal(t, first, second)

	screenID, err := service.DeviceScreen("device-1")
	require.NoError(t, err)
	require.Equal(t, "screen-1", screenID)
}

func TestBindForbiddenForNonOwner(t *testing.T) {
	service := setupTestService(t)

	_, _, err := service.Provision(owner, "device-1")
	require.NoError(t, err)

	_, err = service.Bind(stranger, "device-1", "screen-1", "")
	require.Error(t, err)
	require.Equal(t, apperrors.ErrorCodeForbidden, apperrors.EnsureAppError(err).Code)
}

func TestBindRejectsCrossOwnerScreen(t *testing.T) {
	service := setupTestService(t)

	_, _, err := service.Provision(owner, "device-1")
	require.NoError(t, err)
	_, err = service.Bind(owner, "device-1", "screen-1", "")
	require.NoError(t, err)

	_, _, err = service.Provision(stranger, "device-2")
	require.NoError(t, err)

	// screen-1 is owned by owner-1; a different owner's device may not join it.
	_, err = service.Bind(stranger, "device-2", "screen-1", "")
	require.Error(t, err)
	require.Equal(t, apperrors.ErrorCodeForbidden, apperrors.EnsureAppError(err).Code)
}

func TestBindUnknownDevice(t *testing.T) {
	service := setupTestService(t)

	_, err := service.Bind(owner, "ghost", "screen-1", "")
	require.Error(t, err)
	require.Equal(t, apperrors.ErrorCodeNotFound, apperrors.EnsureAppError(err).Code)
}

func TestAuthorize(t *testing.T) {
	service := setupTestService(t)

	_, _, err := service.Provision(owner, "device-1")
	require.NoError(t, err)
	_, err = service.Bind(owner, "device-1", "screen-1", "")
	require.NoError(t, err)

	deviceCaller := auth.User{Sub: "device-1", Role: auth.RoleDevice}

	require.NoError(t, service.Authorize(owner, "device-1", ""))
	require.NoError(t, service.Authorize(owner, "", "screen-1"))
	require.NoError(t, service.Authorize(admin, "device-1", ""))
	require.NoError(t, service.Authorize(deviceCaller, "device-1", ""))
	require.NoError(t, service.Authorize(deviceCaller, "", "screen-1"))

	require.Error(t, service.Authorize(stranger, "device-1", ""))
	require.Error(t, service.Authorize(stranger, "", "screen-1"))

	otherDevice := auth.User{Sub: "device-9", Role: auth.RoleDevice}
	require.Error(t, service.Authorize(otherDevice, "device-1", ""))
	require.Error(t, service.Authorize(otherDevice, "", "screen-1"))
}

func TestAuthorizeUnknownTargets(t *testing.T) {
	service := setupTestService(t)

	err := service.Authorize(owner, "ghost", "")
	require.Equal(t, apperrors.ErrorCodeNotFound, apperrors.EnsureAppError(err).Code)

	err = service.Authorize(owner, "", "ghost-screen")
	require.Equal(t, apperrors.ErrorCodeNotFound, apperrors.EnsureAppError(err).Code)
}

func TestRetire(t *testing.T) {
	service := setupTestService(t)

	_, _, err := service.Provision(owner, "device-1")
	require.NoError(t, err)
	_, err = service.Bind(owner, "device-1", "screen-1", "")
	require.NoError(t, err)

	require.NoError(t, service.Retire(owner, "device-1"))

	device, err := service.GetDevice("device-1")
	require.NoError(t, err)
	require.Nil(t, device.ScreenID)
	require.Equal(t, DeviceStatusOffline, device.Status)

	screenID, err := service.DeviceScreen("device-1")
	require.NoError(t, err)
	require.Empty(t, screenID)
}

func TestRetireForbiddenForNonOwner(t *testing.T) {
	service := setupTestService(t)

	_, _, err := service.Provision(owner, "device-1")
	require.NoError(t, err)

	err = service.Retire(stranger, "device-1")
	require.Error(t, err)
	require.Equal(t, apperrors.ErrorCodeForbidden, apperrors.EnsureAppError(err).Code)
}

func TestScreenOwnerAndBoundDevices(t *testing.T) {
	service := setupTestService(t)

	_, _, err := service.Provision(owner, "device-1")
	require.NoError(t, err)
	_, _, err = service.Provision(owner, "device-2")
	require.NoError(t, err)
	_, err = service.Bind(owner, "device-1", "screen-1", "")
	require.NoError(t, err)
	_, err = service.Bind(owner, "device-2", "screen-1", "")
	require.NoError(t, err)

	ownerID, err := service.ScreenOwner("screen-1")
	require.NoError(t, err)
	require.Equal(t, "owner-1", ownerID)

	devices, err := service.BoundDevices("screen-1")
	require.NoError(t, err)
	require.Len(t, devices, 2)
}
