package daemon

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"

	"txfs/internal/backup"
)

func init() {
	// Default logging to discard until explicitly enabled via settings or --logging
	log.SetOutput(io.Discard)
}

// Daemon owns the history of one user session and serves it over IPC
type Daemon struct {
	ipcServer *Server
	service   *Service
	logFile   *os.File
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	lock      *flock.Flock

	// Logging configuration
	// LogLevel overrides the log_level setting: trace, debug, info, warn, none
	LogLevel string
}

// New creates a new daemon instance
func New() *Daemon {
	return &Daemon{
		stopCh: make(chan struct{}),
	}
}

// Run starts the daemon and blocks until stopped
func (d *Daemon) Run() error {
	if err := InitConfigDir(); err != nil {
		return err
	}
	settings, err := LoadGlobalSettings()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	if d.LogLevel != "" {
		settings.LogLevel = d.LogLevel
	}
	maxAge, err := settings.MaxAge()
	if err != nil {
		return err
	}
	interval, err := settings.Interval()
	if err != nil {
		return err
	}

	// Acquire exclusive lock
	d.lock = flock.New(LockPath())
	locked, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another daemon instance is already running")
	}
	defer d.lock.Unlock()

	// Holding the lock means no other daemon owns the PID or socket file.
	cleanup := CleanupStaleFiles()

	if err := d.setupLogging(settings.LogLevel); err != nil {
		return err
	}
	if d.logFile != nil {
		defer d.logFile.Close()
	}

	store, err := backup.NewStore(settings.BackupRoot())
	if err != nil {
		return err
	}

	if err := d.writePidFile(); err != nil {
		return err
	}
	defer d.removePidFile()

	log.Infof("[Daemon] started (PID %d), backups in %s", os.Getpid(), store.Root())
	if cleanup.CleanedPidFile || cleanup.CleanedSocket || len(cleanup.Errors) > 0 {
		log.Infof("[Daemon] startup cleanup: %s", FormatCleanupResult(cleanup))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.service = NewService(ctx, store, settings.HistoryCapacity, maxAge, d.requestStop)

	log.Infof("[Daemon] starting IPC server at %s", SocketPath())
	d.ipcServer = NewServer(d.service.Handle)
	if err := d.ipcServer.Start(); err != nil {
		log.Errorf("[Daemon] IPC server failed to start: %v", err)
		return err
	}
	defer d.ipcServer.Stop()

	d.wg.Add(1)
	go d.sweepLoop(ctx, maxAge, interval)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Infof("[Daemon] received signal %v, shutting down", sig)
	case <-d.stopCh:
		log.Infof("[Daemon] stop requested, shutting down")
	}

	// Cancels bulk requests between steps; they roll back before replying,
	// and the server waits for those replies before the process exits.
	cancel()
	if !d.ipcServer.Stop() {
		log.Warnf("[Daemon] exiting with requests still in flight")
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		log.Warnf("[Daemon] timeout waiting for background tasks")
	}

	log.Infof("[Daemon] stopped")
	return nil
}

func (d *Daemon) requestStop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
}

// sweepLoop removes stale backups at startup and then every interval.
func (d *Daemon) sweepLoop(ctx context.Context, maxAge, interval time.Duration) {
	defer d.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := d.service.Sweep(ctx, maxAge); err != nil && ctx.Err() == nil {
			log.Warnf("[Daemon] backup sweep failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// setupLogging sends logrus output to the log file at the given level.
func (d *Daemon) setupLogging(level string) error {
	level = strings.ToLower(level)
	if level == "" || level == "none" || level == "off" {
		log.SetOutput(io.Discard)
		return nil
	}

	// Truncate log file if it exceeds 50MB
	if err := d.truncateLogFile(50 * 1024 * 1024); err != nil {
		// Non-fatal, just log to stderr
		fmt.Fprintf(os.Stderr, "Warning: failed to truncate log file: %v\n", err)
	}

	logFile, err := os.OpenFile(LogPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	d.logFile = logFile
	log.SetOutput(logFile)

	switch level {
	case "trace":
		log.SetLevel(log.TraceLevel)
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	default:
		log.SetLevel(log.DebugLevel)
	}
	return nil
}

func (d *Daemon) writePidFile() error {
	data := []byte(strconv.Itoa(os.Getpid()))
	return os.WriteFile(PidPath(), data, 0600)
}

func (d *Daemon) removePidFile() {
	os.Remove(PidPath())
}

// GetPID reads the daemon PID from file
func GetPID() (int, error) {
	data, err := os.ReadFile(PidPath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// truncateLogFile keeps the newest half of the log once it exceeds maxSize.
func (d *Daemon) truncateLogFile(maxSize int64) error {
	logPath := LogPath()

	info, err := os.Stat(logPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	if info.Size() <= maxSize {
		return nil
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		return err
	}

	// Keep the last half of the content (approximately)
	keepSize := len(data) / 2
	startIdx := len(data) - keepSize

	// Find the next newline to avoid cutting a line in the middle
	for i := startIdx; i < len(data); i++ {
		if data[i] == '\n' {
			startIdx = i + 1
			break
		}
	}

	truncatedData := data[startIdx:]
	header := []byte(fmt.Sprintf("--- Log truncated at %s (kept last %d bytes) ---\n",
		time.Now().Format(time.RFC3339), len(truncatedData)))

	return os.WriteFile(logPath, append(header, truncatedData...), 0600)
}
