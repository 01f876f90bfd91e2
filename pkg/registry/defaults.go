package registry

import (
	"net/http"

	httpaction "github.com/dukex/procflow/pkg/actions/http_request"
	logaction "github.com/dukex/procflow/pkg/actions/log"
	"github.com/dukex/procflow/pkg/actions/transform"
)

// RegisterDefaultActions registers the built-in action types. A nil client
// makes the http_request action use its own client.
func (r *Registry) RegisterDefaultActions(client *http.Client) {
	r.RegisterAction(logaction.NewActionFactory())
	r.RegisterAction(transform.NewActionFactory())
	r.RegisterAction(httpaction.NewActionFactory(client))
}
