package app

import (
	"context"
	"fmt"
	"time"
)

type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components"`
}

type HealthService struct {
	app *App
}

func NewHealthService(app *App) *HealthService {
	return &HealthService{app: app}
}

func (s *HealthService) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:     "up",
		Timestamp:  time.Now().UTC(),
		Components: make(map[string]string),
	}

	// Store
	if s.app.Store == nil {
		status.Status = "degraded"
		status.Components["store"] = "missing"
	} else if err := s.app.Store.Ping(ctx); err != nil {
		status.Status = "degraded"
		status.Components["store"] = "error: " + err.Error()
	} else {
		status.Components["store"] = "ok"
	}

	if s.app.Editor == nil {
		status.Status = "degraded"
		status.Components["graph"] = "missing"
		status.Components["history"] = "missing"
		return status
	}

	entities, connections := s.app.Editor.Graph().Counts()
	status.Components["graph"] = fmt.Sprintf("ok (%d entities, %d connections)", entities, connections)

	engine := s.app.Editor.Engine()
	undo, redo := engine.Depth()
	state := "ok"
	if engine.Busy() {
		state = "busy"
	}
	status.Components["history"] = fmt.Sprintf("%s (%d undo, %d redo)", state, undo, redo)

	return status
}
