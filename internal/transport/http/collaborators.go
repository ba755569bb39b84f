package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chartdb/collab-backend/internal/lock"
	"github.com/chartdb/collab-backend/internal/registry"
)

// CollaboratorHandler is the REST read side of the collaboration core: who is
// in a diagram, and who holds a table's lock. All mutation happens over the
// websocket gateway.
type CollaboratorHandler struct {
	Registry *registry.Registry
	Arbiter  *lock.Arbiter
}

func NewCollaboratorHandler(reg *registry.Registry, arb *lock.Arbiter) *CollaboratorHandler {
	return &CollaboratorHandler{Registry: reg, Arbiter: arb}
}

// GetActiveCollaborators returns every active session in a diagram.
func (h *CollaboratorHandler) GetActiveCollaborators(c *gin.Context) {
	diagramID := c.Param("diagramId")
	collaborators := h.Registry.ListActive(diagramID)
	c.JSON(http.StatusOK, gin.H{"data": collaborators})
}

// GetTableLock reports the current non-expired lock on a table, if any.
func (h *CollaboratorHandler) GetTableLock(c *gin.Context) {
	resourceID := c.Param("tableId")
	holder := h.Arbiter.Holder(resourceID)
	if holder == nil {
		c.JSON(http.StatusOK, gin.H{"locked": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"locked": true, "lock": holder})
}
