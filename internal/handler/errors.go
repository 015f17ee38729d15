package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/business-manager/internal/apperror"
)

type errorResp struct {
	Success bool     `json:"success"`
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Fields  []string `json:"fields,omitempty"`
}

// ErrorHandler renders every error as {success:false, error, message}. It is
// installed as echo's HTTPErrorHandler so middleware and handlers can just
// return errors. Unclassified errors become a generic 500; their cause only
// goes to the log.
func ErrorHandler(log *logrus.Entry) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status, body := render(err)
		if status >= http.StatusInternalServerError {
			log.WithError(err).WithFields(logrus.Fields{
				"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
				"path":       c.Path(),
			}).Error("request failed")
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(status)
		} else {
			werr = c.JSON(status, body)
		}
		if werr != nil {
			log.WithError(werr).Warn("write error response")
		}
	}
}

func render(err error) (int, errorResp) {
	var ae *apperror.Error
	if errors.As(err, &ae) {
		return ae.Kind.Status(), errorResp{Error: string(ae.Kind), Message: ae.Message, Fields: ae.Fields}
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if he.Code < http.StatusInternalServerError && he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
		return he.Code, errorResp{Error: kindForStatus(he.Code), Message: msg}
	}

	return http.StatusInternalServerError, errorResp{
		Error:   string(apperror.KindInternal),
		Message: "internal server error",
	}
}

func kindForStatus(code int) string {
	switch code {
	case http.StatusBadRequest:
		return string(apperror.KindValidation)
	case http.StatusUnauthorized:
		return string(apperror.KindUnauthorized)
	case http.StatusForbidden:
		return string(apperror.KindForbidden)
	case http.StatusNotFound:
		return string(apperror.KindNotFound)
	case http.StatusConflict:
		return string(apperror.KindConflict)
	}
	if code >= http.StatusInternalServerError {
		return string(apperror.KindInternal)
	}
	return http.StatusText(code)
}
