package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// DataResponse writes the API envelope with the given status.
func DataResponse(c echo.Context, statusCode int, data interface{}) error {
	return c.JSON(statusCode, APIResponse{
		Status:  statusCode,
		Message: http.StatusText(statusCode),
		Data:    data,
	})
}

// ListResponse writes a list with its total.
func ListResponse(c echo.Context, rows interface{}, total int64) error {
	return DataResponse(c, http.StatusOK, &ListDataResponse{
		Rows:  rows,
		Total: total,
	})
}

// SuccessResponse writes success response.
func SuccessResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusOK, data)
}

// CreatedResponse writes created response.
func CreatedResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusCreated, data)
}

// BadRequestResponse writes bad request error.
func BadRequestResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusBadRequest, data)
}

// TooManyRequestsResponse writes a rate limit rejection.
func TooManyRequestsResponse(c echo.Context) error {
	return DataResponse(c, http.StatusTooManyRequests, []*AppError{TooManyRequestsError("too many requests")})
}

// InternalServerErrorResponse writes internal server error.
func InternalServerErrorResponse(c echo.Context) error {
	return DataResponse(c, http.StatusInternalServerError, "Something went wrong")
}

// AppErrorResponse writes application error response.
func AppErrorResponse(c echo.Context, err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return DataResponse(c, appErr.Status, []*AppError{appErr})
	}
	return InternalServerErrorResponse(c)
}
