package capture

import (
	"errors"
	"fmt"
	"strings"
)

// Viewport is a named device class with fixed pixel dimensions.
type Viewport struct {
	Name   string `mapstructure:"name" json:"name"`
	Width  int    `mapstructure:"width" json:"width"`
	Height int    `mapstructure:"height" json:"height"`
}

// Validate checks the name and dimensions.
func (v Viewport) Validate() error {
	if strings.TrimSpace(v.Name) == "" {
		return errors.New("viewport name is required")
	}
	if strings.ContainsAny(v.Name, `/\`) {
		return fmt.Errorf("viewport %q: name must not contain path separators", v.Name)
	}
	if v.Width <= 0 || v.Height <= 0 {
		return fmt.Errorf("viewport %q: width and height must be > 0", v.Name)
	}
	return nil
}

// Catalog is an ordered set of viewports with unique names. Iteration order
// is declaration order.
type Catalog struct {
	viewports []Viewport
}

// DefaultCatalog returns the desktop, tablet and mobile profiles.
func DefaultCatalog() Catalog {
	return Catalog{viewports: []Viewport{
		{Name: "desktop", Width: 1440, Height: 900},
		{Name: "tablet", Width: 768, Height: 1024},
		{Name: "mobile", Width: 375, Height: 812},
	}}
}

// NewCatalog validates the viewports and keeps their order.
func NewCatalog(viewports []Viewport) (Catalog, error) {
	if len(viewports) == 0 {
		return Catalog{}, errors.New("at least one viewport is required")
	}
	seen := make(map[string]struct{}, len(viewports))
	out := make([]Viewport, 0, len(viewports))
	for _, vp := range viewports {
		if err := vp.Validate(); err != nil {
			return Catalog{}, err
		}
		if _, dup := seen[vp.Name]; dup {
			return Catalog{}, fmt.Errorf("duplicate viewport name %q", vp.Name)
		}
		seen[vp.Name] = struct{}{}
		out = append(out, vp)
	}
	return Catalog{viewports: out}, nil
}

// Viewports returns a copy of the catalog in declaration order.
func (c Catalog) Viewports() []Viewport {
	return append([]Viewport(nil), c.viewports...)
}

// Len returns the number of device classes.
func (c Catalog) Len() int {
	return len(c.viewports)
}

// Lookup finds a viewport by name.
func (c Catalog) Lookup(name string) (Viewport, bool) {
	for _, vp := range c.viewports {
		if vp.Name == name {
			return vp, true
		}
	}
	return Viewport{}, false
}
