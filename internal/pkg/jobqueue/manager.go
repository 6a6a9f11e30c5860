package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Taskly/internal/pkg/cache"
	"github.com/ManuelReschke/Taskly/internal/pkg/env"
)

const housekeepingLock = "lock:usage-housekeeping"

// Task is one periodic unit of background work.
type Task func(ctx context.Context) error

// Manager manages the global job queue and background tasks
type Manager struct {
	queue *Queue

	reminderInterval     time.Duration
	housekeepingInterval time.Duration
	reminderSweep        Task
	housekeeping         Task
	locker               *redsync.Redsync

	reminderTicker     *time.Ticker
	housekeepingTicker *time.Ticker
	stopCh             chan struct{}
	wg                 sync.WaitGroup
	mu                 sync.Mutex
	running            bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global job queue manager (singleton)
func GetManager() *Manager {
	managerOnce.Do(func() {
		globalManager = NewManager(NewQueue(env.GetEnvInt("JOBQUEUE_WORKERS", 5)))
	})
	return globalManager
}

// NewManager creates a manager around queue with intervals read from the
// environment.
func NewManager(queue *Queue) *Manager {
	return &Manager{
		queue:                queue,
		reminderInterval:     env.GetEnvDuration("REMINDER_POLL_INTERVAL", 10*time.Second),
		housekeepingInterval: env.GetEnvDuration("USAGE_PURGE_INTERVAL", 24*time.Hour),
		stopCh:               make(chan struct{}),
	}
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// SetReminderSweep installs the task run on every reminder tick. Every
// instance runs it; the sweep itself guards against double delivery.
func (m *Manager) SetReminderSweep(task Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reminderSweep = task
}

// SetHousekeeping installs the usage window purge. Only the instance holding
// the distributed lock runs it on a given tick.
func (m *Manager) SetHousekeeping(task Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.housekeeping = task
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	m.queue.Start()

	if m.reminderSweep != nil {
		m.reminderTicker = time.NewTicker(m.reminderInterval)
		m.wg.Add(1)
		go m.reminderWorker(m.reminderTicker, m.reminderSweep)
	}

	if m.housekeeping != nil {
		if m.locker == nil {
			m.locker = cache.GetRedsync()
		}
		m.housekeepingTicker = time.NewTicker(m.housekeepingInterval)
		m.wg.Add(1)
		go m.housekeepingWorker(m.housekeepingTicker, m.housekeeping)
	}

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	if m.reminderTicker != nil {
		m.reminderTicker.Stop()
	}
	if m.housekeepingTicker != nil {
		m.housekeepingTicker.Stop()
	}

	// Signal workers to stop
	close(m.stopCh)
	m.running = false

	// Wait for background workers to finish
	m.wg.Wait()

	// Stop the job queue
	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// reminderWorker runs the reminder sweep on every tick
func (m *Manager) reminderWorker(ticker *time.Ticker, task Task) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started reminder worker (interval: %s)", m.reminderInterval)

	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Reminder worker stopping")
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.reminderInterval*3)
			if err := task(ctx); err != nil {
				log.Errorf("[JobQueue Manager] Reminder sweep error: %v", err)
			}
			cancel()
		}
	}
}

// housekeepingWorker runs the usage purge on every tick under the cluster lock
func (m *Manager) housekeepingWorker(ticker *time.Ticker, task Task) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started housekeeping worker (interval: %s)", m.housekeepingInterval)

	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Housekeeping worker stopping")
			return
		case <-ticker.C:
			if err := m.RunHousekeepingOnce(context.Background()); err != nil {
				log.Errorf("[JobQueue Manager] Housekeeping error: %v", err)
			}
		}
	}
}

// RunHousekeepingOnce runs the housekeeping task if no other instance holds
// the lock. It returns nil without running when the lock is taken.
func (m *Manager) RunHousekeepingOnce(ctx context.Context) error {
	m.mu.Lock()
	task := m.housekeeping
	if m.locker == nil {
		m.locker = cache.GetRedsync()
	}
	locker := m.locker
	m.mu.Unlock()
	if task == nil {
		return nil
	}

	mutex := locker.NewMutex(housekeepingLock,
		redsync.WithExpiry(30*time.Minute),
		redsync.WithTries(1),
	)
	if err := mutex.TryLockContext(ctx); err != nil {
		log.Debugf("[JobQueue Manager] Housekeeping skipped, lock held elsewhere: %v", err)
		return nil
	}
	defer func() {
		if _, err := mutex.UnlockContext(context.Background()); err != nil {
			log.Warnf("[JobQueue Manager] Failed to release housekeeping lock: %v", err)
		}
	}()
	return task(ctx)
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
