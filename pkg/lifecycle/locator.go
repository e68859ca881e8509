package lifecycle

import (
	"context"

	"github.com/nightshift/droplet-scheduler/pkg/digitalocean"
	"github.com/nightshift/droplet-scheduler/pkg/errors"
)

// Locator finds the backup image of a droplet.
type Locator struct {
	api       API
	namespace string
}

// NewLocator creates a Locator for images named namespace+dropletID.
func NewLocator(api API, namespace string) *Locator {
	return &Locator{api: api, namespace: namespace}
}

// Find returns the first private image whose name is exactly
// ImageName(namespace, dropletID), or nil when there is none.
func (l *Locator) Find(ctx context.Context, dropletID int) (*digitalocean.Image, error) {
	images, err := l.api.ListPrivateImages(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list private images")
	}

	want := ImageName(l.namespace, dropletID)
	for i := range images {
		if images[i].Name == want {
			return &images[i], nil
		}
	}
	return nil, nil
}
