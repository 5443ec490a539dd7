package service

import (
	"sync"
	"time"

	"github.com/luisreales/techprep-sub000/internal/logger"
)

// MaintenanceService executa tarefas de manutenção em background num intervalo fixo
type MaintenanceService struct {
	interval time.Duration
	jobs     map[string]func()
	stopChan chan struct{}
	mu       sync.Mutex
	running  bool
}

// NewMaintenanceService cria o serviço; padrão: a cada 5 minutos
func NewMaintenanceService(interval time.Duration) *MaintenanceService {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &MaintenanceService{
		interval: interval,
		jobs:     make(map[string]func()),
	}
}

// Register adiciona uma tarefa nomeada; chamar antes de Start
func (m *MaintenanceService) Register(name string, job func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[name] = job
}

func (m *MaintenanceService) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		logger.Warn("MaintenanceService already running")
		return
	}
	m.running = true
	// canal novo a cada execução para permitir Start depois de Stop
	stop := make(chan struct{})
	m.stopChan = stop
	logger.Info("MaintenanceService started | interval: %v | jobs: %d", m.interval, len(m.jobs))

	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.RunOnce()
			case <-stop:
				logger.Info("MaintenanceService stopped")
				return
			}
		}
	}()
}

func (m *MaintenanceService) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	close(m.stopChan)
}

// RunOnce executa todas as tarefas; um panic é logado e não interrompe as demais
func (m *MaintenanceService) RunOnce() {
	m.mu.Lock()
	jobs := make(map[string]func(), len(m.jobs))
	for name, job := range m.jobs {
		jobs[name] = job
	}
	m.mu.Unlock()

	for name, job := range jobs {
		start := time.Now()
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Maintenance job %s panicked: %v", name, r)
				}
			}()
			job()
		}()
		logger.Debug("Maintenance job %s done | duration: %v", name, time.Since(start))
	}
}
