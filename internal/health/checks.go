package health

import (
	"fmt"

	"github.com/opsdeck/gateway/internal/discovery"
)

// BackendCheck reports the aggregate backend health from the discovery
// registry. The gateway stays ready with zero registered services; static
// route targets still work in that state.
func BackendCheck(registry *discovery.Registry) CheckFunc {
	return func() Check {
		snapshot := registry.HealthSnapshot()

		switch snapshot.OverallStatus {
		case "unknown", "healthy":
			return Check{Status: StatusHealthy}
		case "degraded":
			return Check{
				Status: StatusDegraded,
				Message: fmt.Sprintf("%d of %d services healthy",
					snapshot.HealthyServices, snapshot.TotalServices),
			}
		default:
			return Check{
				Status:  StatusDegraded,
				Message: "no healthy backend instances",
			}
		}
	}
}
