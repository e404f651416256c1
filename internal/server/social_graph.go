package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	followdomain "github.com/smallbiznis/kinship/internal/followgraph/domain"
)

type followRequest struct {
	FollowingID string `json:"followingId"`
}

func (s *Server) Follow(c *gin.Context) {
	var req followRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.followSvc.Follow(c.Request.Context(), principalID(c), strings.TrimSpace(req.FollowingID))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) Unfollow(c *gin.Context) {
	var req followRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	targetID := strings.TrimSpace(req.FollowingID)
	if err := s.followSvc.Unfollow(c.Request.Context(), principalID(c), targetID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"followerId":  principalID(c),
		"followingId": targetID,
		"isFollowing": false,
	}})
}

func (s *Server) FollowStatus(c *gin.Context) {
	resp, err := s.followSvc.Status(c.Request.Context(), principalID(c), strings.TrimSpace(c.Param("targetUserId")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListFollowers(c *gin.Context) {
	resp, err := s.followSvc.Followers(c.Request.Context(), strings.TrimSpace(c.Param("userId")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": listBody("followers", resp)})
}

func (s *Server) ListFollowing(c *gin.Context) {
	resp, err := s.followSvc.Following(c.Request.Context(), strings.TrimSpace(c.Param("userId")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": listBody("following", resp)})
}

// listBody names the user list after the direction of the edges, e.g. {"followers": [...], "count": 2}.
func listBody(key string, resp *followdomain.ListResponse) gin.H {
	users := resp.Users
	if users == nil {
		users = []followdomain.UserSummary{}
	}
	return gin.H{key: users, "count": resp.Count}
}
