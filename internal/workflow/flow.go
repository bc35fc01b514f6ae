// File: internal/workflow/flow.go
package workflow

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/enroll-cli/api/schemas"
)

// FlowFor selects the platform capability for an attempt. The selection
// happens exactly once, when the attempt's session is bound; from then on
// the engine works against the schemas.PlatformFlow contract only.
func FlowFor(platform schemas.Platform, drv schemas.Driver, logger *zap.Logger) (schemas.PlatformFlow, error) {
	switch platform {
	case schemas.PlatformAirbnb:
		return NewAirbnbFlow(drv, logger), nil
	default:
		return nil, fmt.Errorf("no flow registered for platform %q", platform)
	}
}
