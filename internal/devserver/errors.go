package devserver

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
)

// apiError is returned by handlers and rendered as {"message": ...}.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string { return e.Message }

func badRequest(msg string) error { return &apiError{Status: fiber.StatusBadRequest, Message: msg} }
func notFound(msg string) error   { return &apiError{Status: fiber.StatusNotFound, Message: msg} }
func conflict(msg string) error   { return &apiError{Status: fiber.StatusConflict, Message: msg} }

func unauthorized(msg string) error {
	return &apiError{Status: fiber.StatusUnauthorized, Message: msg}
}

var errInternal = &apiError{Status: fiber.StatusInternalServerError, Message: "Internal server error."}

func toAPIError(err error) *apiError {
	var api *apiError
	if errors.As(err, &api) {
		return api
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return &apiError{Status: fe.Code, Message: fe.Message}
	}
	return errInternal
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
