package harvester

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/content-harvester/internal/parser"
	memorystorage "github.com/JakeFAU/content-harvester/internal/storage/memory"
)

func TestBuildHeaders(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Now().UTC()}
	o := New(
		&fakeSession{},
		parser.New(clock),
		memorystorage.NewEntityStore(),
		nil,
		clock,
		nopPauser{},
		Config{
			BaseURL:       "https://content.example.com",
			DefaultCookie: "default=identity",
			UserAgents:    []string{"ua-one", "ua-two"},
		},
		zap.NewNop(),
	)

	headers := o.buildHeaders("session=mine")
	require.Equal(t, "session=mine", headers["Cookie"])
	require.Equal(t, "https://content.example.com/", headers["Referer"])
	require.Contains(t, []string{"ua-one", "ua-two"}, headers["User-Agent"])
	require.NotEmpty(t, headers["Accept-Language"])

	// Empty cookie falls back to the configured default identity.
	headers = o.buildHeaders("")
	require.Equal(t, "default=identity", headers["Cookie"])

	// The identity rotates between attempts.
	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		seen[o.buildHeaders("")["User-Agent"]] = true
	}
	require.Len(t, seen, 2)
}
