package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/br00tm/infrawatch/internal/alert"
	"github.com/br00tm/infrawatch/internal/auth"
	"github.com/br00tm/infrawatch/internal/database"
	"github.com/br00tm/infrawatch/internal/models"
)

const minPasswordLength = 8

// fail maps domain errors onto status codes. Unknown errors are logged
// and reported without detail.
func (s *Server) fail(c *gin.Context, err error) {
	var ve *alert.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Err.Error(), "problems": ve.Problems})
	case errors.Is(err, database.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, alert.ErrRuleExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, alert.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func idParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		badRequest(c, "invalid id")
		return 0, false
	}
	return uint(id), true
}

func pageParams(c *gin.Context) database.Page {
	number, _ := strconv.Atoi(c.Query("page"))
	size, _ := strconv.Atoi(c.Query("page_size"))
	return database.Page{Number: number, Size: size}
}

// timeParam parses an optional RFC3339 query parameter.
func timeParam(c *gin.Context, name string) (*time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be an RFC3339 timestamp", name)
	}
	t = t.UTC()
	return &t, nil
}

func timeRange(c *gin.Context) (start, end *time.Time, ok bool) {
	var err error
	if start, err = timeParam(c, "start"); err != nil {
		badRequest(c, err.Error())
		return nil, nil, false
	}
	if end, err = timeParam(c, "end"); err != nil {
		badRequest(c, err.Error())
		return nil, nil, false
	}
	return start, end, true
}

type credentials struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) login(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	user, err := s.deps.Users.GetByUsername(c.Request.Context(), req.Username)
	if err != nil || !user.CheckPassword(req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if !user.IsActive {
		c.JSON(http.StatusForbidden, gin.H{"error": "user is inactive"})
		return
	}

	token, expires, err := s.deps.Auth.GenerateToken(user)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expires_at": expires.UTC(), "user": user})
}

type registerRequest struct {
	credentials
	Email string `json:"email"`
}

// register creates a regular user. The first account on an empty
// database becomes the admin.
func (s *Server) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	ctx := c.Request.Context()

	count, err := s.deps.Users.Count(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	role := models.RoleUser
	if count == 0 {
		role = models.RoleAdmin
	}

	user, ok := s.newUser(c, req.Username, req.Password, req.Email, role)
	if !ok {
		return
	}
	s.log.Info().Str("username", user.Username).Str("role", string(user.Role)).Msg("User registered")
	c.JSON(http.StatusCreated, gin.H{"user": user, "api_key": user.ApiKey})
}

func (s *Server) newUser(c *gin.Context, username, password, email string, role models.Role) (*models.User, bool) {
	username = strings.TrimSpace(username)
	if username == "" {
		badRequest(c, "username is required")
		return nil, false
	}
	if len(password) < minPasswordLength {
		badRequest(c, fmt.Sprintf("password must be at least %d characters", minPasswordLength))
		return nil, false
	}
	if !role.Valid() {
		badRequest(c, fmt.Sprintf("unknown role %q", role))
		return nil, false
	}

	ctx := c.Request.Context()
	if _, err := s.deps.Users.GetByUsername(ctx, username); err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "username already taken"})
		return nil, false
	} else if !errors.Is(err, database.ErrNotFound) {
		s.fail(c, err)
		return nil, false
	}

	user := &models.User{Username: username, Email: email, Role: role, IsActive: true}
	if err := user.SetPassword(password); err != nil {
		s.fail(c, err)
		return nil, false
	}
	if err := s.deps.Users.Create(ctx, user); err != nil {
		s.fail(c, err)
		return nil, false
	}
	return user, true
}

func (s *Server) me(c *gin.Context) {
	user, ok := auth.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) listUsers(c *gin.Context) {
	users, err := s.deps.Users.List(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

type userRequest struct {
	Username string      `json:"username"`
	Password string      `json:"password"`
	Email    string      `json:"email"`
	Role     models.Role `json:"role"`
}

func (s *Server) createUser(c *gin.Context) {
	var req userRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.Role == "" {
		req.Role = models.RoleUser
	}
	user, ok := s.newUser(c, req.Username, req.Password, req.Email, req.Role)
	if !ok {
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": user, "api_key": user.ApiKey})
}

type userUpdate struct {
	Email    *string      `json:"email"`
	Role     *models.Role `json:"role"`
	IsActive *bool        `json:"is_active"`
	Password *string      `json:"password"`
}

func (s *Server) updateUser(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req userUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	ctx := c.Request.Context()

	user, err := s.deps.Users.Get(ctx, id)
	if err != nil {
		s.fail(c, err)
		return
	}
	if req.Email != nil {
		user.Email = *req.Email
	}
	if req.Role != nil {
		if !req.Role.Valid() {
			badRequest(c, fmt.Sprintf("unknown role %q", *req.Role))
			return
		}
		user.Role = *req.Role
	}
	if req.IsActive != nil {
		user.IsActive = *req.IsActive
	}
	if req.Password != nil {
		if len(*req.Password) < minPasswordLength {
			badRequest(c, fmt.Sprintf("password must be at least %d characters", minPasswordLength))
			return
		}
		if err := user.SetPassword(*req.Password); err != nil {
			s.fail(c, err)
			return
		}
	}

	if err := s.deps.Users.Update(ctx, user); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) deleteUser(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if current, ok := auth.CurrentUser(c); ok && current.ID == id {
		badRequest(c, "cannot delete the current user")
		return
	}
	if err := s.deps.Users.Delete(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "user deleted successfully"})
}
