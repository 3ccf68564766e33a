package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/examportal/trustcore/shared/domain"
	"github.com/examportal/trustcore/shared/errors"
	"github.com/go-chi/chi/v5"
)

// parseIdParam reads a positive int64 URL parameter.
func parseIdParam(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Validation(fmt.Sprintf("Invalid %s: must be a positive integer", name))
	}
	return id, nil
}

func parseDay(raw, name string) (time.Time, error) {
	day, err := domain.ParseDay(raw)
	if err != nil {
		return time.Time{}, errors.Validation(fmt.Sprintf("Invalid %s: expected %s", name, domain.DateLayout))
	}
	return day, nil
}

func parseIntQuery(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, errors.Validation(fmt.Sprintf("Invalid %s: must be a positive integer", name))
	}
	return v, nil
}
