package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/geocoder89/storefront/internal/auth"
	"github.com/geocoder89/storefront/internal/domain/user"
	"github.com/geocoder89/storefront/internal/http/middlewares"
	"github.com/geocoder89/storefront/internal/utils"
	"github.com/gin-gonic/gin"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	requestTimeout  = 3 * time.Second
)

type UserService interface {
	Register(ctx context.Context, in auth.RegisterInput) (user.User, error)
	RegisterElevated(ctx context.Context, in auth.ElevatedInput, actor *user.User) (user.User, error)
	IssueTokens(u user.User) (auth.TokenPair, error)
	Login(ctx context.Context, email, password string) (auth.LoginResult, error)
	AdminLogin(ctx context.Context, email, password string) (auth.LoginResult, error)
	Refresh(ctx context.Context, raw string) (auth.LoginResult, error)
	UpdateProfile(ctx context.Context, id string, in auth.ProfileUpdate) (user.User, error)
	AdminUpdate(ctx context.Context, id string, in auth.AdminUpdate) (user.User, error)
	GetUser(ctx context.Context, id string) (user.User, error)
	ListUsers(ctx context.Context, filter user.ListFilter) ([]user.User, error)
	DeleteUser(ctx context.Context, id string) error
}

var _ UserService = (*auth.Service)(nil)

type UsersHandler struct {
	svc UserService
}

func NewUsersHandler(svc UserService) *UsersHandler {
	return &UsersHandler{svc: svc}
}

type RegisterRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6,max=72"`
}

type AdminRegisterRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6,max=72"`
	Role     string `json:"role" binding:"omitempty,oneof=admin moderator"`
	AdminKey string `json:"adminKey"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

type UpdateProfileRequest struct {
	Name            string                `json:"name"`
	Email           string                `json:"email" binding:"omitempty,email"`
	Password        string                `json:"password" binding:"omitempty,min=6,max=72"`
	ShippingAddress *user.ShippingAddress `json:"shippingAddress"`
}

type AdminUpdateRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email" binding:"omitempty,email"`
	Role     string `json:"role" binding:"omitempty,role"`
	IsAdmin  *bool  `json:"isAdmin"`
	IsActive *bool  `json:"isActive"`
}

// authResponse is the user record plus a fresh token pair.
type authResponse struct {
	user.User
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

type listUsersResponse struct {
	Items      []user.User `json:"items"`
	Limit      int         `json:"limit"`
	NextCursor *string     `json:"nextCursor,omitempty"`
	HasMore    bool        `json:"hasMore"`
}

// POST /api/users
func (h *UsersHandler) Register(ctx *gin.Context) {
	var req RegisterRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), requestTimeout)
	defer cancel()

	u, err := h.svc.Register(cctx, auth.RegisterInput{Name: req.Name, Email: req.Email, Password: req.Password})
	if err != nil {
		RespondServiceError(ctx, err)
		return
	}

	h.respondWithTokens(ctx, http.StatusCreated, u)
}

// POST /api/users/admin/register. Allowed with the setup key or an admin bearer token.
func (h *UsersHandler) AdminRegister(ctx *gin.Context) {
	var req AdminRegisterRequest

	if !BindJSON(ctx, &req) {
		return
	}

	var actor *user.User
	if u, ok := middlewares.UserFromContext(ctx); ok {
		actor = &u
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), requestTimeout)
	defer cancel()

	u, err := h.svc.RegisterElevated(cctx, auth.ElevatedInput{
		RegisterInput: auth.RegisterInput{Name: req.Name, Email: req.Email, Password: req.Password},
		Role:          req.Role,
		SetupKey:      req.AdminKey,
	}, actor)
	if err != nil {
		RespondServiceError(ctx, err)
		return
	}

	h.respondWithTokens(ctx, http.StatusCreated, u)
}

// POST /api/users/login
func (h *UsersHandler) Login(ctx *gin.Context) {
	h.login(ctx, h.svc.Login)
}

// POST /api/users/admin/login
func (h *UsersHandler) AdminLogin(ctx *gin.Context) {
	h.login(ctx, h.svc.AdminLogin)
}

func (h *UsersHandler) login(ctx *gin.Context, fn func(context.Context, string, string) (auth.LoginResult, error)) {
	var req LoginRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), requestTimeout)
	defer cancel()

	res, err := fn(cctx, req.Email, req.Password)
	if err != nil {
		RespondServiceError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, authResponse{User: res.User, Token: res.AccessToken, RefreshToken: res.RefreshToken})
}

// POST /api/users/refresh
func (h *UsersHandler) Refresh(ctx *gin.Context) {
	var req RefreshRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), requestTimeout)
	defer cancel()

	res, err := h.svc.Refresh(cctx, req.RefreshToken)
	if err != nil {
		RespondServiceError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, authResponse{User: res.User, Token: res.AccessToken, RefreshToken: res.RefreshToken})
}

// GET /api/users/profile
func (h *UsersHandler) GetProfile(ctx *gin.Context) {
	u, ok := middlewares.UserFromContext(ctx)
	if !ok {
		RespondUnauthorized(ctx, "unauthorized", "Not authorized")
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, u)
}

// PUT /api/users/profile
func (h *UsersHandler) UpdateProfile(ctx *gin.Context) {
	me, ok := middlewares.UserFromContext(ctx)
	if !ok {
		RespondUnauthorized(ctx, "unauthorized", "Not authorized")
		return
	}

	var req UpdateProfileRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), requestTimeout)
	defer cancel()

	u, err := h.svc.UpdateProfile(cctx, me.ID, auth.ProfileUpdate{
		Name:            req.Name,
		Email:           req.Email,
		Password:        req.Password,
		ShippingAddress: req.ShippingAddress,
	})
	if err != nil {
		RespondServiceError(ctx, err)
		return
	}

	h.respondWithTokens(ctx, http.StatusOK, u)
}

// GET /api/users/permissions/:permission
func (h *UsersHandler) CheckPermission(ctx *gin.Context) {
	u, ok := middlewares.UserFromContext(ctx)
	if !ok {
		RespondUnauthorized(ctx, "unauthorized", "Not authorized")
		return
	}

	raw := ctx.Param("permission")

	// unknown names are answered, not rejected
	p, err := user.ParsePermission(raw)
	has := err == nil && u.HasPermission(p)

	ctx.JSON(http.StatusOK, gin.H{
		"hasPermission": has,
		"permission":    raw,
	})
}

// GET /api/users?limit=&cursor=
func (h *UsersHandler) ListUsers(ctx *gin.Context) {
	limit := defaultPageSize

	if raw := ctx.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxPageSize {
			RespondBadRequest(ctx, "Invalid limit", gin.H{"fields": []FieldError{{
				Field: "limit", Rule: "range", Param: "1-100", Message: "must be between 1 and 100",
			}}})
			return
		}
		limit = n
	}

	filter := user.ListFilter{Limit: limit + 1}

	if raw := ctx.Query("cursor"); raw != "" {
		c, err := utils.DecodeUserCursor(raw)
		if err != nil {
			RespondBadRequest(ctx, "Invalid cursor", gin.H{"fields": []FieldError{{
				Field: "cursor", Rule: "cursor", Message: "is malformed",
			}}})
			return
		}
		filter.AfterCreatedAt = c.CreatedAt
		filter.AfterID = c.ID
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), requestTimeout)
	defer cancel()

	items, err := h.svc.ListUsers(cctx, filter)
	if err != nil {
		RespondServiceError(ctx, err)
		return
	}

	resp := listUsersResponse{Items: items, Limit: limit}

	// one extra row tells us whether there is another page
	if len(items) > limit {
		resp.Items = items[:limit]
		resp.HasMore = true

		last := resp.Items[limit-1]
		next, err := utils.EncodeUserCursor(last.CreatedAt, last.ID)
		if err != nil {
			RespondInternal(ctx, "Could not build cursor")
			return
		}
		resp.NextCursor = &next
	}

	RespondJSONWithETag(ctx, http.StatusOK, resp)
}

// GET /api/users/:id
func (h *UsersHandler) GetUser(ctx *gin.Context) {
	cctx, cancel := context.WithTimeout(ctx.Request.Context(), requestTimeout)
	defer cancel()

	u, err := h.svc.GetUser(cctx, ctx.Param("id"))
	if err != nil {
		RespondServiceError(ctx, err)
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, u)
}

// PUT /api/users/:id
func (h *UsersHandler) UpdateUser(ctx *gin.Context) {
	var req AdminUpdateRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), requestTimeout)
	defer cancel()

	u, err := h.svc.AdminUpdate(cctx, ctx.Param("id"), auth.AdminUpdate{
		Name:     req.Name,
		Email:    req.Email,
		Role:     req.Role,
		IsAdmin:  req.IsAdmin,
		IsActive: req.IsActive,
	})
	if err != nil {
		RespondServiceError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, u)
}

// DELETE /api/users/:id
func (h *UsersHandler) DeleteUser(ctx *gin.Context) {
	cctx, cancel := context.WithTimeout(ctx.Request.Context(), requestTimeout)
	defer cancel()

	if err := h.svc.DeleteUser(cctx, ctx.Param("id")); err != nil {
		RespondServiceError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"message": "User removed"})
}

func (h *UsersHandler) respondWithTokens(ctx *gin.Context, status int, u user.User) {
	pair, err := h.svc.IssueTokens(u)
	if err != nil {
		RespondServiceError(ctx, err)
		return
	}

	ctx.JSON(status, authResponse{User: u, Token: pair.AccessToken, RefreshToken: pair.RefreshToken})
}
