package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/alfredjeanlab/onix/internal/model"
)

// APIError represents an error response from the server. It unwraps to the
// model sentinel matching its code, so callers can test it with errors.Is
// the same way they test errors from an in-process service.
type APIError struct {
	StatusCode int
	Code       model.Code
	Message    string
	Fields     []model.FieldError
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("HTTP %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Code {
	case model.CodeNotFound:
		return model.ErrNotFound
	case model.CodeConflict:
		return model.ErrConflict
	case model.CodeRuleViolation:
		return model.ErrRuleViolation
	case model.CodeInvalidArgument:
		return model.ErrInvalidArgument
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var errResp struct {
		Error  string             `json:"error"`
		Code   model.Code         `json:"code"`
		Fields []model.FieldError `json:"fields"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		return &APIError{
			StatusCode: resp.StatusCode,
			Code:       errResp.Code,
			Message:    errResp.Error,
			Fields:     errResp.Fields,
		}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: string(body)}
}
