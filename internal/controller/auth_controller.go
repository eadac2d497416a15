package controller

import (
	"errors"
	"net/http"

	"geosewa_exam/internal/service"
	"geosewa_exam/internal/util"

	"github.com/gin-gonic/gin"
)

type AuthController struct {
	AuthService *service.AuthService
}

func NewAuthController(authService *service.AuthService) *AuthController {
	return &AuthController{AuthService: authService}
}

// LoginRequest defines model for login
// swagger:model LoginRequest
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login godoc
// @Summary Log in
// @Description Signs in against the exam API and stores the token pair
// @Tags auth
// @Accept  json
// @Produce  json
// @Param   body body LoginRequest true "Credentials"
// @Success 200 {object} util.Response{data=model.SessionState}
// @Failure 400 {object} util.Response
// @Failure 401 {object} util.Response
// @Router /auth/login [post]
func (c *AuthController) Login(ctx *gin.Context) {
	var req LoginRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	state, err := c.AuthService.Login(ctx.Request.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMissingCredentials):
			util.BadRequest(ctx, err.Error())
		case errors.Is(err, util.ErrAuthRequired), errors.Is(err, util.ErrBadRequest):
			util.Error(ctx, http.StatusUnauthorized, "Invalid username or password.")
		default:
			util.ErrorFrom(ctx, err)
		}
		return
	}
	util.Success(ctx, state)
}

// Logout godoc
// @Summary Log out
// @Description Drops the stored tokens and closes running attempts; their answers stay cached
// @Tags auth
// @Produce  json
// @Success 200 {object} util.Response
// @Router /auth/logout [post]
func (c *AuthController) Logout(ctx *gin.Context) {
	c.AuthService.Logout()
	util.Success(ctx, nil)
}

// Session godoc
// @Summary Session status
// @Description Validates the stored tokens, refreshing the access token when needed
// @Tags auth
// @Produce  json
// @Success 200 {object} util.Response{data=model.SessionState}
// @Router /auth/session [get]
func (c *AuthController) Session(ctx *gin.Context) {
	util.Success(ctx, c.AuthService.CheckSession(ctx.Request.Context()))
}
