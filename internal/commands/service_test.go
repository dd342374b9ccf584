package commands

import (
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/screenhub/screen-hub-go/internal/apperrors"
	"github.com/screenhub/screen-hub-go/internal/auth"
	"github.com/screenhub/screen-hub-go/internal/db"
	"github.com/screenhub/screen-hub-go/internal/registry"
)

var (
	owner    = auth.User{Sub: "owner-1", Role: auth.RoleOwner}
	stranger = auth.User{Sub: "owner-2", Role: auth.RoleOwner}
)

// setupTestQueue builds the queue over a real registry: owner-1 owns
// device-1 and device-2 bound to screen-1, and owner-2 owns device-3
// bound to screen-2.
func setupTestQueue(t *testing.T) (*Service, *registry.Service) {
	t.Helper()
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "test.db")

	dbPair, err := db.Init(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { dbPair.Close() })

	registryService := registry.NewService(dbPair, nil, nil)
	for _, d := range []struct{ device, screen string }{
		{"device-1", "screen-1"},
		{"device-2", "screen-1"},
	} {
		_, _, err := registryService.Provision(owner, d.device)
		require.NoError(t, err)
		_, err = registryService.Bind(owner, d.device, d.screen, "")
		require.NoError(t, err)
	}
	_, _, err = registryService.Provision(stranger, "device-3")
	require.NoError(t, err)
	_, err = registryService.Bind(stranger, "device-3", "screen-2", "")
	require.NoError(t, err)

	return NewService(dbPair, registryService, 10, nil), registryService
}

func TestParseTarget(t *testing.T) {
	target, err := ParseTarget("device-1", "")
	require.NoError(t, err)
	require.Equal(t, TargetDevice, target.Kind)
	require.Equal(t, "device-1", target.DeviceID())
	require.Empty(t, target.ScreenID())

	target, err = ParseTarget("", "screen-1")
	require.NoError(t, err)
	require.Equal(t, TargetScreen, target.Kind)

	_, err = ParseTarget("", "")
	require.Error(t, err)

	_, err = ParseTarget("device-1", "screen-1")
	require.Error(t, err)
}

func TestEnqueuePollAck(t *testing.T) {
	queue, _ := setupTestQueue(t)

	id, err := queue.Enqueue(owner, Target{Kind: TargetDevice, ID: "device-1"}, "reload", map[string]any{"url": "https://cdn.example/a"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	pending := queue.Poll("device-1", "screen-1")
	require.Len(t, pending, 1)
	require.Equal(t, id, pending[0].CommandID)
	require.Equal(t, "reload", pending[0].Command)
	require.Equal(t, "https://cdn.example/a", pending[0].Payload["url"])

	queue.Ack("device-1", []string{id})

	require.Empty(t, queue.Poll("device-1", "screen-1"))
}

func TestPollIsSideEffectFree(t *testing.T) {
	queue, _ := setupTestQueue(t)

	id, err := queue.Enqueue(owner, Target{Kind: TargetDevice, ID: "device-1"}, "reload", nil)
	require.NoError(t, err)

	// Until acked, every poll returns the same command.
	first := queue.Poll("device-1", "screen-1")
	second := queue.Poll("device-1", "screen-1")
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	require.Equal(t, id, second[0].CommandID)
}

func TestScreenBroadcastVisibility(t *testing.T) {
	queue, _ := setupTestQueue(t)

	id, err := queue.Enqueue(owner, Target{Kind: TargetScreen, ID: "screen-1"}, "set_content", nil)
	require.NoError(t, err)

	// Both devices bound to screen-1 see the broadcast; device-3 does not.
	require.Len(t, queue.Poll("device-1", "screen-1"), 1)
	require.Len(t, queue.Poll("device-2", "screen-1"), 1)
	require.Empty(t, queue.Poll("device-3", "screen-2"))

	// One device acking removes the broadcast for all of them.
	queue.Ack("device-1", []string{id})
	require.Empty(t, queue.Poll("device-2", "screen-1"))
}

func TestEnqueueNeverDeduplicates(t *testing.T) {
	queue, _ := setupTestQueue(t)

	target := Target{Kind: TargetDevice, ID: "device-1"}
	first, err := queue.Enqueue(owner, target, "reload", nil)
	require.NoError(t, err)
	second, err := queue.Enqueue(owner, target, "reload", nil)
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	require.Len(t, queue.Poll("device-1", "screen-1"), 2)
}

func TestPollOrderIsFIFO(t *testing.T) {
	queue, _ := setupTestQueue(t)

	target := Target{Kind: TargetDevice, ID: "device-1"}
	var ids []string
	for _, name := range []string{"a", "b", "c"} {
		id, err := queue.Enqueue(owner, target, name, nil)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	pending := queue.Poll("device-1", "screen-1")
	require.Len(t, pending, 3)
	for i, command := range pending {
		require.Equal(t, ids[i], command.CommandID)
	}
}

func TestPollRespectsPageSize(t *testing.T) {
	queue, _ := setupTestQueue(t)

	target := Target{Kind: TargetDevice, ID: "device-1"}
	for i := 0; i < 15; i++ {
		_, err := queue.Enqueue(owner, target, "reload", nil)
		require.NoError(t, err)
	}

	require.Len(t, queue.Poll("device-1", "screen-1"), 10)
}

func TestAckIsIdempotent(t *testing.T) {
	queue, _ := setupTestQueue(t)

	id, err := queue.Enqueue(owner, Target{Kind: TargetDevice, ID: "device-1"}, "reload", nil)
	require.NoError(t, err)

	queue.Ack("device-1", []string{id})

	command, err := queue.repo.Get(id)
	require.NoError(t, err)
	require.Equal(t, StatusAcknowledged, command.Status)
	require.NotNil(t, command.AcknowledgedAt)
	firstAck := *command.AcknowledgedAt

	queue.Ack("device-1", []string{id})

	command, err = queue.repo.Get(id)
	require.NoError(t, err)
	require.Equal(t, StatusAcknowledged, command.Status)
	require.Equal(t, firstAck, *command.AcknowledgedAt)
}

func TestAckSkipsForeignCommands(t *testing.T) {
	queue, _ := setupTestQueue(t)

	otherID, err := queue.Enqueue(stranger, Target{Kind: TargetDevice, ID: "device-3"}, "reload", nil)
	require.NoError(t, err)

	// device-1 cannot consume a command addressed to device-3, even with a
	// guessed id.
	queue.Ack("device-1", []string{otherID})

	require.Len(t, queue.Poll("device-3", "screen-2"), 1)
}

func TestAckResolvesScreenFromBinding(t *testing.T) {
	queue, _ := setupTestQueue(t)

	id, err := queue.Enqueue(owner, Target{Kind: TargetScreen, ID: "screen-1"}, "set_content", nil)
	require.NoError(t, err)

	// The binding supplies the screen dimension of the match.
	queue.Ack("device-1", []string{id})

	require.Empty(t, queue.Poll("device-2", "screen-1"))
}

func TestAckCannotConsumeForeignScreenBroadcast(t *testing.T) {
	queue, _ := setupTestQueue(t)

	id, err := queue.Enqueue(stranger, Target{Kind: TargetScreen, ID: "screen-2"}, "set_content", nil)
	require.NoError(t, err)

	// device-1 is bound to screen-1; whatever screen it claims, its ack
	// must not consume screen-2's broadcast.
	queue.Ack("device-1", []string{id})

	require.Len(t, queue.Poll("device-3", "screen-2"), 1)
}

func TestAckUnknownIDIsNoOp(t *testing.T) {
	queue, _ := setupTestQueue(t)

	queue.Ack("device-1", []string{"no-such-command"})
}

func TestEnqueueValidation(t *testing.T) {
	queue, _ := setupTestQueue(t)

	_, err := queue.Enqueue(owner, Target{Kind: TargetDevice, ID: "device-1"}, "", nil)
	require.Error(t, err)
	require.Equal(t, apperrors.ErrorCodeValidationError, apperrors.EnsureAppError(err).Code)
}

func TestEnqueueForbiddenForNonOwner(t *testing.T) {
	queue, _ := setupTestQueue(t)

	_, err := queue.Enqueue(stranger, Target{Kind: TargetDevice, ID: "device-1"}, "reload", nil)
	require.Error(t, err)
	require.Equal(t, apperrors.ErrorCodeForbidden, apperrors.EnsureAppError(err).Code)
}

func TestPollTouchesLastSeen(t *testing.T) {
	queue, registryService := setupTestQueue(t)

	queue.Poll("device-1", "screen-1")

	device, err := registryService.GetDevice("device-1")
	require.NoError(t, err)
	require.NotNil(t, device.LastSeen)
}
