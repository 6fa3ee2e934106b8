package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func resetLoggingState() {
	CloseAll()
	loggers = make(map[Category]*Logger)
	logsDir = ""
	fleetRoot = ""
	configLoaded = false
	config = loggingConfig{}
}

func writeFleetConfig(t *testing.T, root string, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(root, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "fleet.json"), []byte(content), 0644))
}

func TestAllCategoriesLog(t *testing.T) {
	tempDir := t.TempDir()
	writeFleetConfig(t, tempDir, `{
		"logging": {
			"level": "debug",
			"debug_mode": true,
			"categories": {
				"boot": true, "store": true, "events": true, "routes": true,
				"gate": true, "coordinator": true, "scheduler": true,
				"watchdog": true, "audit": true, "embedqueue": true
			}
		}
	}`)

	resetLoggingState()
	require.NoError(t, Initialize(tempDir))
	require.True(t, IsDebugMode())

	categories := []Category{
		CategoryBoot, CategoryStore, CategoryEvents, CategoryRoutes, CategoryGate,
		CategoryCoordinator, CategoryScheduler, CategoryWatchdog, CategoryAudit, CategoryEmbedQueue,
	}

	for _, cat := range categories {
		require.True(t, IsCategoryEnabled(cat), "category %s should be enabled", cat)
		logger := Get(cat)
		logger.Info("info message for %s", cat)
		logger.Debug("debug message for %s", cat)
		logger.Warn("warn message for %s", cat)
		logger.Error("error message for %s", cat)
	}

	Boot("convenience boot log")
	Store("convenience store log")
	Events("convenience events log")
	Routes("convenience routes log")
	Gate("convenience gate log")
	Coordinator("convenience coordinator log")
	Scheduler("convenience scheduler log")
	Watchdog("convenience watchdog log")
	Audit("convenience audit log")
	EmbedQueue("convenience embedqueue log")

	CloseAll()

	logsPath := filepath.Join(tempDir, "logs")
	entries, err := os.ReadDir(logsPath)
	require.NoError(t, err)

	for _, cat := range categories {
		found := false
		for _, entry := range entries {
			if strings.Contains(entry.Name(), string(cat)+".log") {
				found = true
				content, err := os.ReadFile(filepath.Join(logsPath, entry.Name()))
				require.NoError(t, err)
				require.NotEmpty(t, content)
				break
			}
		}
		require.True(t, found, "no log file for category %s", cat)
	}
}

func TestDebugModeDisabled(t *testing.T) {
	tempDir := t.TempDir()
	writeFleetConfig(t, tempDir, `{
		"logging": {"level": "debug", "debug_mode": false, "categories": {"boot": true}}
	}`)

	resetLoggingState()
	require.NoError(t, Initialize(tempDir))
	require.False(t, IsDebugMode())
	require.False(t, IsCategoryEnabled(CategoryBoot))

	Boot("should not be logged")
	logger := Get(CategoryBoot)
	logger.Info("should not be logged")
	CloseAll()

	logsPath := filepath.Join(tempDir, "logs")
	_, err := os.Stat(logsPath)
	require.True(t, os.IsNotExist(err), "logs directory should not be created in production mode")
}

func TestCategoryToggle(t *testing.T) {
	tempDir := t.TempDir()
	writeFleetConfig(t, tempDir, `{
		"logging": {
			"level": "debug",
			"debug_mode": true,
			"categories": {"boot": true, "watchdog": true, "gate": false}
		}
	}`)

	resetLoggingState()
	require.NoError(t, Initialize(tempDir))

	require.True(t, IsCategoryEnabled(CategoryBoot))
	require.True(t, IsCategoryEnabled(CategoryWatchdog))
	require.False(t, IsCategoryEnabled(CategoryGate))
	require.True(t, IsCategoryEnabled(CategoryStore), "category absent from config defaults to enabled")

	Boot("should be logged")
	Gate("should not be logged")
	CloseAll()

	logsPath := filepath.Join(tempDir, "logs")
	entries, _ := os.ReadDir(logsPath)

	var hasBoot, hasGate bool
	for _, e := range entries {
		if strings.Contains(e.Name(), "boot") {
			hasBoot = true
		}
		if strings.Contains(e.Name(), "gate") {
			hasGate = true
		}
	}
	require.True(t, hasBoot)
	require.False(t, hasGate)
}

func TestTimerLogging(t *testing.T) {
	tempDir := t.TempDir()
	writeFleetConfig(t, tempDir, `{"logging": {"level": "debug", "debug_mode": true}}`)

	resetLoggingState()
	require.NoError(t, Initialize(tempDir))

	timer := StartTimer(CategoryCoordinator, "TestOperation")
	time.Sleep(time.Millisecond)
	elapsed := timer.Stop()
	require.Greater(t, elapsed, time.Duration(0))

	CloseAll()
}

func TestReloadConfigPicksUpChanges(t *testing.T) {
	tempDir := t.TempDir()
	writeFleetConfig(t, tempDir, `{"logging": {"level": "info", "debug_mode": false}}`)

	resetLoggingState()
	require.NoError(t, Initialize(tempDir))
	require.False(t, IsDebugMode())

	writeFleetConfig(t, tempDir, `{"logging": {"level": "debug", "debug_mode": true}}`)
	require.NoError(t, ReloadConfig())
	require.True(t, IsDebugMode())

	CloseAll()
}
