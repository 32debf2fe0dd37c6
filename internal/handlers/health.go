package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"gorm.io/gorm"
)

// HealthHandler reports process and optional-audit-database liveness. The
// DICOM storage backend itself has no external dependency to probe — an
// in-memory Provider is healthy whenever the process is running.
type HealthHandler struct {
	auditDB *gorm.DB // nil when the audit trail is disabled
}

func NewHealthHandler(auditDB *gorm.DB) *HealthHandler {
	return &HealthHandler{auditDB: auditDB}
}

type healthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response := healthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Services:  map[string]string{"storage": "healthy"},
	}

	if h.auditDB != nil {
		sqlDB, err := h.auditDB.DB()
		if err != nil || sqlDB.Ping() != nil {
			response.Services["audit_db"] = "unhealthy"
			response.Status = "degraded"
		} else {
			response.Services["audit_db"] = "healthy"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if response.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(response)
}

func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.auditDB != nil {
		sqlDB, err := h.auditDB.DB()
		if err != nil || sqlDB.Ping() != nil {
			http.Error(w, "Service not ready", http.StatusServiceUnavailable)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
