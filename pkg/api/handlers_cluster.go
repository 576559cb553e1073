package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"taskqueue/pkg/worker"
)

// WorkerResponse is the API representation of a registered worker.
type WorkerResponse struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Status        worker.Status `json:"status"`
	MaxConcurrent int           `json:"max_concurrent_jobs"`
	Load          float64       `json:"load"`
}

func workerToResponse(n *worker.Node) WorkerResponse {
	info := n.Info()
	return WorkerResponse{
		ID:            info.ID,
		Name:          info.Name,
		Status:        info.Status,
		MaxConcurrent: info.MaxConcurrentJobs,
		Load:          n.Load(),
	}
}

// listWorkers handles GET /api/v1/cluster/workers
func (s *Server) listWorkers(c *gin.Context) {
	nodes := s.coordinator.Workers().All()
	resp := make([]WorkerResponse, len(nodes))
	for i, n := range nodes {
		resp[i] = workerToResponse(n)
	}
	c.JSON(http.StatusOK, gin.H{"workers": resp, "count": len(resp)})
}

// registerWorker handles POST /api/v1/cluster/workers
func (s *Server) registerWorker(c *gin.Context) {
	var req struct {
		Name          string `json:"name" binding:"required"`
		MaxConcurrent int    `json:"max_concurrent_jobs"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	info := worker.NewInfo(req.Name, req.MaxConcurrent)
	node := s.coordinator.RegisterWorker(info)
	c.JSON(http.StatusCreated, workerToResponse(node))
}

// workerHeartbeat handles POST /api/v1/cluster/workers/:id/heartbeat
func (s *Server) workerHeartbeat(c *gin.Context) {
	id := c.Param("id")
	if ok := s.coordinator.WorkerHeartbeat(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown worker"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": "ok"})
}
