package oobd

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/edgefleet/oobd/internal/filestore"
	"github.com/edgefleet/oobd/internal/storage"
	"github.com/edgefleet/oobd/pkg/oid"
)

const tenantContextKey = "oobTenant"

// HeaderTenantID scopes every management request to one tenant.
const HeaderTenantID = "X-Tenant-ID"

func (s *Server) mountManagementRoutes(group *gin.RouterGroup) {
	// Download route for the local filestore backend. Signed GCS links
	// bypass the service entirely.
	if local, ok := s.files.(*filestore.Local); ok {
		group.GET("/files/:key", s.handleLocalDownload(local))
	}

	authed := group.Group("", s.requireManagement())
	authed.GET("/assets", s.handleListAssets)
	authed.PUT("/assets/:assetId", s.handleRegisterAsset)
	authed.DELETE("/assets/:assetId", s.handleDeleteAsset)
	authed.GET("/operations", s.handleListOperations)
	authed.POST("/assets/:assetId/operations", s.handleCreateOperation)
	authed.GET("/assets/:assetId/operations/:id", s.handleGetOperation)
	authed.PATCH("/assets/:assetId/operations/:id", s.handleCancelOperation)
	authed.GET("/assets/:assetId/operations/:id/link", s.handleDownloadLink)
}

// requireManagement checks the static service token and the tenant
// header. With no token configured the whole surface is disabled.
func (s *Server) requireManagement() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.settings.ManagementToken == "" {
			respondError(c, Unauthorized("management API disabled"))
			return
		}
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.settings.ManagementToken)) != 1 {
			respondError(c, Unauthorized("invalid management token"))
			return
		}
		tenantID := c.GetHeader(HeaderTenantID)
		if tenantID == "" {
			respondError(c, BadRequest("missing %s header", HeaderTenantID))
			return
		}
		c.Set(tenantContextKey, tenantID)
		c.Next()
	}
}

func contextTenant(c *gin.Context) string {
	return c.MustGet(tenantContextKey).(string)
}

func (s *Server) handleRegisterAsset(c *gin.Context) {
	token, err := s.engine.RegisterAsset(c.Request.Context(), contextTenant(c), c.Param("assetId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"token": token})
}

func (s *Server) handleListAssets(c *gin.Context) {
	filter := storage.AssetFilter{
		AssetID: c.Query("assetId"),
		Limit:   queryInt(c, "limit"),
	}
	assets, err := s.engine.ListAssets(c.Request.Context(), contextTenant(c), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, assets)
}

func (s *Server) handleDeleteAsset(c *gin.Context) {
	if err := s.engine.DeleteAsset(c.Request.Context(), contextTenant(c), c.Param("assetId")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListOperations(c *gin.Context) {
	filter := storage.OperationFilter{
		AssetID: c.Query("assetId"),
		Name:    c.Query("name"),
		Limit:   queryInt(c, "limit"),
	}
	if status := c.Query("status"); status != "" {
		filter.Statuses = strings.Split(status, ",")
	}
	if after := c.Query("after"); after != "" {
		id, err := oid.FromHex(after)
		if err != nil {
			respondError(c, BadRequest("malformed after cursor"))
			return
		}
		filter.IDAfter = &id
	}

	ops, err := s.engine.ListOperations(c.Request.Context(), contextTenant(c), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ops)
}

type createOperationRequest struct {
	Name       string          `json:"name" binding:"required,oneof=Reboot RestartServices SendFiles"`
	Parameters json.RawMessage `json:"parameters"`
}

func (s *Server) handleCreateOperation(c *gin.Context) {
	var req createOperationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, BadRequest("invalid operation: %v", err))
		return
	}
	id, err := s.engine.CreateOperation(c.Request.Context(), contextTenant(c), c.Param("assetId"), req.Name, req.Parameters)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id.Hex()})
}

func (s *Server) handleGetOperation(c *gin.Context) {
	id, err := oid.FromHex(c.Param("id"))
	if err != nil {
		respondError(c, BadRequest("malformed operation id"))
		return
	}
	view, err := s.engine.GetOperation(c.Request.Context(), contextTenant(c), c.Param("assetId"), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type cancelOperationRequest struct {
	Status string `json:"status" binding:"required,oneof=Cancelled"`
}

func (s *Server) handleCancelOperation(c *gin.Context) {
	id, err := oid.FromHex(c.Param("id"))
	if err != nil {
		respondError(c, BadRequest("malformed operation id"))
		return
	}
	var req cancelOperationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, BadRequest("only cancellation is supported: %v", err))
		return
	}
	if err := s.engine.CancelOperation(c.Request.Context(), contextTenant(c), c.Param("assetId"), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleDownloadLink(c *gin.Context) {
	id, err := oid.FromHex(c.Param("id"))
	if err != nil {
		respondError(c, BadRequest("malformed operation id"))
		return
	}
	link, err := s.engine.DownloadLink(c.Request.Context(), contextTenant(c), c.Param("assetId"), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": link})
}

// handleLocalDownload streams a locally stored file. The key arrives
// path-escaped as a single segment.
func (s *Server) handleLocalDownload(local *filestore.Local) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, err := url.PathUnescape(c.Param("key"))
		if err != nil {
			respondError(c, BadRequest("malformed file key"))
			return
		}
		rc, err := local.Open(key)
		if err != nil {
			if err == filestore.ErrNotFound {
				respondError(c, NotFound("no such file"))
				return
			}
			respondError(c, err)
			return
		}
		defer rc.Close()

		c.Header("Content-Type", "application/octet-stream")
		c.Status(http.StatusOK)
		io.Copy(c.Writer, rc)
	}
}

func queryInt(c *gin.Context, name string) int {
	value, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return 0
	}
	return value
}
