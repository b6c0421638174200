package preflight

import (
	"fmt"
	"os"

	"github.com/Aman-CERP/dirindex/internal/config"
	"github.com/Aman-CERP/dirindex/internal/daemon"
	"github.com/Aman-CERP/dirindex/internal/workitem"
)

// CheckDataDirLock warns when another server holds the data directory.
func (c *Checker) CheckDataDirLock() CheckResult {
	result := CheckResult{Name: "data_dir_lock", Required: false}

	lock := daemon.NewDataDirLock(c.cfg.LockPath())
	if err := lock.Acquire(); err != nil {
		result.Status = StatusWarn
		result.Message = "held by a running server"
		result.Details = err.Error()
		return result
	}
	_ = lock.Release()

	result.Status = StatusPass
	result.Message = "free"
	return result
}

// CheckPendingFile reports work left by the previous run. A file the server
// cannot read is kept and skipped at startup, so it is a warning.
func (c *Checker) CheckPendingFile() CheckResult {
	result := CheckResult{Name: "pending_work", Required: false}

	file := workitem.NewPendingFile(c.cfg.PendingFilePath())
	pending, err := file.Load()
	if err != nil {
		result.Status = StatusWarn
		result.Message = "unreadable, will not be replayed"
		result.Details = err.Error()
		return result
	}

	result.Status = StatusPass
	if pending.Empty() {
		result.Message = "none"
		return result
	}
	result.Message = fmt.Sprintf("%d item(s) and %d retry record(s) will be replayed", len(pending.Items), len(pending.Retries))
	return result
}

// CheckProvider checks that the configured card source is usable.
func (c *Checker) CheckProvider() CheckResult {
	result := CheckResult{Name: "provider", Required: true}

	if c.cfg.Provider.Type == config.ProviderHTTP {
		result.Status = StatusPass
		result.Message = "http " + c.cfg.Provider.BaseURL
		return result
	}

	dir := c.cfg.CardDir()
	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("card directory %s does not exist yet", dir)
	case err != nil:
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot read card directory: %v", err)
	case !info.IsDir():
		result.Status = StatusFail
		result.Message = fmt.Sprintf("%s is not a directory", dir)
	default:
		result.Status = StatusPass
		result.Message = "directory " + dir
	}
	return result
}
