package oobd

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/edgefleet/oobd/internal/storage"
	"github.com/edgefleet/oobd/pkg/oid"
)

const assetContextKey = "oobAsset"

// mountEdgeRoutes wires the device-facing surface. Every route except
// upload carries the asset bearer token; upload authenticates with the
// single-use token embedded in its destination URL.
func (s *Server) mountEdgeRoutes(group *gin.RouterGroup) {
	group.PUT("/operations/:id/upload", s.handleUpload)

	authed := group.Group("", s.requireAsset())
	authed.GET("/operations", s.handlePoll)
	authed.PATCH("/operations/:id", s.handleDeviceUpdate)
}

// requireAsset resolves the Authorization bearer token to an asset row
// and stows it in the request context.
func (s *Server) requireAsset() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		asset, err := s.auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			respondError(c, err)
			return
		}
		c.Set(assetContextKey, asset)
		c.Next()
	}
}

func contextAsset(c *gin.Context) *storage.Asset {
	return c.MustGet(assetContextKey).(*storage.Asset)
}

func (s *Server) handlePoll(c *gin.Context) {
	asset := contextAsset(c)
	oob := ParseOOBHeader(c.GetHeader(HeaderOOB))

	ops, err := s.engine.Poll(c.Request.Context(), asset, oob[HeaderKeyBootID])
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ops)
}

type deviceUpdateRequest struct {
	Status            string        `json:"status" binding:"required"`
	AdditionalDetails *string       `json:"additionalDetails"`
	Progress          *ProgressView `json:"progress"`
}

func (s *Server) handleDeviceUpdate(c *gin.Context) {
	asset := contextAsset(c)

	id, err := oid.FromHex(c.Param("id"))
	if err != nil {
		respondError(c, BadRequest("malformed operation id"))
		return
	}
	var req deviceUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, BadRequest("invalid update: %v", err))
		return
	}
	if !IsDeviceReportable(req.Status) {
		respondError(c, BadRequest("status %q cannot be reported by a device", req.Status))
		return
	}

	err = s.engine.ApplyDeviceUpdate(c.Request.Context(), asset, id, DeviceReport{
		Status:            req.Status,
		AdditionalDetails: req.AdditionalDetails,
		Progress:          req.Progress,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleUpload(c *gin.Context) {
	id, err := oid.FromHex(c.Param("id"))
	if err != nil {
		respondError(c, BadRequest("malformed operation id"))
		return
	}
	if err := s.engine.Upload(c.Request.Context(), id, c.Query("uploadToken"), c.Request.Body); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
