package factory

import (
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/bcrypt"

	"github.com/mcoot/turntimer/internal/dependencies/clock"
	"github.com/mcoot/turntimer/internal/dependencies/mocks"
	"github.com/mcoot/turntimer/internal/services/auth"
	"github.com/mcoot/turntimer/internal/services/directory"
	"github.com/mcoot/turntimer/internal/storage/memory"
	"github.com/mcoot/turntimer/internal/testutil"
)

// TestApp extends App with test-specific helpers
type TestApp struct {
	*App

	// Mocks for test control
	FakeClock *clockwork.FakeClock
	MockIDs   *mocks.SequentialIDs
}

// NewTestApp creates an App configured for testing with mocked dependencies
func NewTestApp(contexts ...directory.Entry) *TestApp {
	fakeClock := clock.NewFake(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	mockIDs := mocks.NewSequentialIDs("id")

	authCfg := auth.DefaultConfig()
	authCfg.BcryptCost = bcrypt.MinCost

	app, err := newWithDependencies(dependencies{
		store: memory.New(),
		clock: fakeClock,
		ids:   mockIDs,
		users: auth.NewMemoryUsers(),
	}, Config{AuthConfig: authCfg, Contexts: contexts}, testutil.NopLogger())
	if err != nil {
		panic(err)
	}

	return &TestApp{
		App:       app,
		FakeClock: fakeClock,
		MockIDs:   mockIDs,
	}
}
