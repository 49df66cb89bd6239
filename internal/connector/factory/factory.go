// Package factory maps a source definition onto the concrete connector for
// its type tag.
package factory

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/finchsearch/finch/internal/connector"
	"github.com/finchsearch/finch/internal/connector/folder"
	"github.com/finchsearch/finch/internal/connector/relay"
	"github.com/finchsearch/finch/internal/connector/sqlpull"
	"github.com/finchsearch/finch/internal/connector/web"
	"github.com/finchsearch/finch/internal/document"
)

// Deps bundles the shared collaborators a connector may need.
type Deps struct {
	Logger      *zap.Logger
	UserAgent   string
	HTTPTimeout time.Duration
	State       connector.StateStore
	Extractors  folder.Extractors
}

// Build validates the definition and constructs its connector. The type tag
// set is closed; anything else is ErrUnknownSourceType.
func Build(src document.SourceDefinition, deps Deps) (connector.Connector, error) {
	switch src.Type {
	case document.SourceWeb, document.SourceFolder, document.SourceSQL, document.SourceRelay:
	default:
		return nil, fmt.Errorf("%w: %q", connector.ErrUnknownSourceType, src.Type)
	}
	if err := src.Validate(); err != nil {
		return nil, err
	}
	switch src.Type {
	case document.SourceWeb:
		return web.New(web.Config{
			SourceID:  src.ID,
			Web:       *src.Web,
			UserAgent: deps.UserAgent,
			Timeout:   deps.HTTPTimeout,
			Logger:    deps.Logger,
		})
	case document.SourceFolder:
		return folder.New(folder.Config{
			SourceID:   src.ID,
			Folder:     *src.Folder,
			Extractors: deps.Extractors,
			Logger:     deps.Logger,
		})
	case document.SourceSQL:
		return sqlpull.New(sqlpull.Config{
			SourceID: src.ID,
			SQL:      *src.SQL,
			State:    deps.State,
			Logger:   deps.Logger,
		})
	case document.SourceRelay:
		return relay.New(relay.Config{
			SourceID: src.ID,
			Relay:    *src.Relay,
			State:    deps.State,
			Logger:   deps.Logger,
		})
	default:
		// Unreachable given the tag check above.
		return nil, fmt.Errorf("%w: %q", connector.ErrUnknownSourceType, src.Type)
	}
}
