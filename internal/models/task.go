package models

import (
	"fmt"

	"regionsplat/pkg/dispatch"
)

// ImageTask is one submitted encode job and the archive entry its payload
// is stored under.
type ImageTask struct {
	// Name is the entry path inside the output archive
	Name string

	// Result resolves to the encoded image bytes
	Result *dispatch.Future[[]byte]
}

// SliceCoordinate locates one decomposed mask layer
type SliceCoordinate struct {
	// Directory is the page index within the mask container
	Directory int

	// Depth is the layer index within the page
	Depth int
}

func (c SliceCoordinate) String() string {
	return fmt.Sprintf("Directory-%d_Depth-%d", c.Directory, c.Depth)
}

// RegionEntry names one splat output page by the region it belongs to
type RegionEntry struct {
	// Identifier is the region identifier read from the mask page
	Identifier uint64
}

func (e RegionEntry) String() string {
	return fmt.Sprintf("Identifier-%d", e.Identifier)
}
