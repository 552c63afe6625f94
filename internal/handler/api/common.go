package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"stoflow/internal/models"
	"stoflow/internal/repository"
)

func successResponse(c echo.Context, msg string, obj interface{}) error {
	return c.JSON(http.StatusOK, models.APIResponse{
		Status: true,
		Msg:    msg,
		Obj:    obj,
	})
}

func errorResponse(c echo.Context, code int, msg string) error {
	return c.JSON(code, models.APIResponse{
		Status: false,
		Msg:    msg,
		Obj:    nil,
	})
}

// Repos bundles all repositories needed by API handlers.
type Repos struct {
	Job        *repository.JobRepository
	Batch      *repository.BatchRepository
	Credential *repository.CredentialRepository
}
