package job

import (
	"encoding/json"
	"net/http"

	"github.com/agentforge/deployq/common"
	"github.com/agentforge/deployq/internal/dto"
	"github.com/agentforge/deployq/middleware"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// validateDeployConfig checks that an opaque config blob has the shape the
// pipeline's validate step will expect. Rejecting here keeps bad payloads
// out of the state machine entirely.
func validateDeployConfig(raw json.RawMessage) error {
	var payload dto.DeployConfigPayload

	if err := json.Unmarshal(raw, &payload); err != nil {
		return common.APIError{
			Status:  http.StatusBadRequest,
			Code:    common.CodeInvalidConfig,
			Message: "invalid config format",
		}
	}

	if err := validate.Struct(payload); err != nil {
		return common.APIError{
			Status:  http.StatusBadRequest,
			Code:    common.CodeInvalidConfig,
			Message: "config validation failed",
			Fields:  middleware.FormatValidationErrors(err),
		}
	}

	if payload.Image == "" && payload.SourceRef == "" {
		return common.APIError{
			Status:  http.StatusBadRequest,
			Code:    common.CodeInvalidConfig,
			Message: "config must set image or source_ref",
		}
	}

	return nil
}
