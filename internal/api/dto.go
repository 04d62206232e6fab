package api

import (
	"time"

	"service-agent/internal/domain"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Kind    string      `json:"kind"`
	Message string      `json:"message"`
	Detail  string      `json:"detail,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// HealthResponse reports the agent's own dependencies.
type HealthResponse struct {
	Status   string `json:"status"`
	Docker   string `json:"docker"`
	Database string `json:"database"`
}

// === Configuration ===

// UpsertConfigBody is the body of POST /config.
type UpsertConfigBody struct {
	Key         string   `json:"key"`
	Value       string   `json:"value"`
	Scope       []string `json:"scope"`
	IsSecret    bool     `json:"is_secret"`
	Category    *string  `json:"category,omitempty"`
	Description *string  `json:"description,omitempty"`
}

// PatchConfigBody is the body of PUT /config/{key}. Absent fields are left
// unchanged.
type PatchConfigBody struct {
	Value       *string  `json:"value,omitempty"`
	Scope       []string `json:"scope,omitempty"`
	IsSecret    *bool    `json:"is_secret,omitempty"`
	Category    *string  `json:"category,omitempty"`
	Description *string  `json:"description,omitempty"`
}

// ConfigEntry is the wire form of a configuration entry.
type ConfigEntry struct {
	ID          string    `json:"id"`
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Scope       []string  `json:"scope"`
	IsSecret    bool      `json:"is_secret"`
	Category    *string   `json:"category,omitempty"`
	Description *string   `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	UpdatedBy   string    `json:"updated_by"`
}

// ConfigMutationResponse is returned by config create and update.
type ConfigMutationResponse struct {
	Entry      ConfigEntry `json:"entry"`
	AuditError string      `json:"audit_error,omitempty"`
}

// ConfigDeleteResponse is returned by config delete.
type ConfigDeleteResponse struct {
	Key        string   `json:"key"`
	Scope      []string `json:"scope"`
	AuditError string   `json:"audit_error,omitempty"`
}

func configEntryToAPI(e domain.ConfigEntry) ConfigEntry {
	return ConfigEntry{
		ID:          e.ID,
		Key:         e.Key,
		Value:       e.Value,
		Scope:       e.Scope.Members(),
		IsSecret:    e.IsSecret,
		Category:    e.Category,
		Description: e.Description,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
		UpdatedBy:   e.UpdatedBy,
	}
}

// === Services ===

// ContainerStatus is the wire form of one container.
type ContainerStatus struct {
	Name         string `json:"name"`
	ID           string `json:"id"`
	Image        string `json:"image"`
	Service      string `json:"service,omitempty"`
	State        string `json:"state"`
	Status       string `json:"status"`
	Health       string `json:"health,omitempty"`
	ExitCode     int    `json:"exit_code"`
	RestartCount int    `json:"restart_count"`
	StartedAt    string `json:"started_at,omitempty"`
}

// ServiceStatus is the wire form of a live service status.
type ServiceStatus struct {
	Name       string            `json:"name"`
	Status     string            `json:"status"`
	Observed   string            `json:"observed,omitempty"`
	InFlight   string            `json:"in_flight,omitempty"`
	Error      string            `json:"error,omitempty"`
	Containers []ContainerStatus `json:"containers"`
}

// ServiceList is the body of GET /services.
type ServiceList struct {
	Services []ServiceStatus `json:"services"`
}

// LogsResponse is the body of GET /services/{name}/logs.
type LogsResponse struct {
	Logs string `json:"logs"`
}

// OperationResult is the wire form of a lifecycle operation outcome.
type OperationResult struct {
	Service    string `json:"service"`
	Operation  string `json:"operation"`
	Success    bool   `json:"success"`
	PriorState string `json:"prior_state"`
	State      string `json:"state"`
	Output     string `json:"output,omitempty"`
	AuditError string `json:"audit_error,omitempty"`
}

func serviceStatusToAPI(s domain.ServiceStatus) ServiceStatus {
	out := ServiceStatus{
		Name:       s.Name,
		Status:     string(s.State),
		InFlight:   string(s.InFlight),
		Error:      s.Error,
		Containers: make([]ContainerStatus, len(s.Containers)),
	}
	if s.Observed != s.State {
		out.Observed = string(s.Observed)
	}
	for i, c := range s.Containers {
		out.Containers[i] = ContainerStatus{
			Name:         c.Name,
			ID:           c.ID,
			Image:        c.Image,
			Service:      c.Service,
			State:        c.State,
			Status:       c.Status,
			Health:       c.Health,
			ExitCode:     c.ExitCode,
			RestartCount: c.RestartCount,
			StartedAt:    c.StartedAt,
		}
	}
	return out
}

func operationResultToAPI(r *domain.OperationResult) *OperationResult {
	if r == nil {
		return nil
	}
	return &OperationResult{
		Service:    r.Service,
		Operation:  string(r.Operation),
		Success:    r.Success,
		PriorState: string(r.PriorState),
		State:      string(r.State),
		Output:     r.Output,
		AuditError: r.AuditError,
	}
}

// === Operation log ===

// OperationLogRecord is the wire form of an audit record.
type OperationLogRecord struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	Actor         string    `json:"actor"`
	ActorEmail    *string   `json:"actor_email,omitempty"`
	Operation     string    `json:"operation"`
	TargetService *string   `json:"target_service,omitempty"`
	Outcome       string    `json:"outcome"`
	Detail        *string   `json:"detail,omitempty"`
}

// OperationLogList is the body of GET /operations.
type OperationLogList struct {
	Data          []OperationLogRecord `json:"data"`
	Total         int64                `json:"total"`
	NextPageToken string               `json:"next_page_token,omitempty"`
}

func operationLogToAPI(r domain.OperationLogRecord) OperationLogRecord {
	return OperationLogRecord{
		ID:            r.ID,
		CreatedAt:     r.CreatedAt,
		Actor:         r.Actor,
		ActorEmail:    r.ActorEmail,
		Operation:     string(r.Operation),
		TargetService: r.TargetService,
		Outcome:       string(r.Outcome),
		Detail:        r.Detail,
	}
}
